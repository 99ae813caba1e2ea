package markov

import (
	"slices"
	"sort"
)

// Distribution holds the observed outputs of a single input token together
// with their counts. Outputs are kept in the order they were first observed,
// which is the order the weighted walk iterates them in.
type Distribution struct {
	total  int
	counts map[string]int
	order  []string
}

func newDistribution() *Distribution {
	return &Distribution{counts: make(map[string]int)}
}

// Total returns the sum of all output counts.
func (d *Distribution) Total() int { return d.total }

// Len returns the number of distinct outputs.
func (d *Distribution) Len() int { return len(d.order) }

// Count returns how many times out was observed, or 0.
func (d *Distribution) Count(out string) int { return d.counts[out] }

// Outputs returns a copy of the outputs in insertion order.
func (d *Distribution) Outputs() []string { return slices.Clone(d.order) }

func (d *Distribution) add(out string, n int) {
	if _, ok := d.counts[out]; !ok {
		d.order = append(d.order, out)
	}
	d.counts[out] += n
	d.total += n
}

// decrement lowers the count of out by one. It reports false, leaving the
// distribution untouched, when out was never observed.
func (d *Distribution) decrement(out string) bool {
	c, ok := d.counts[out]
	if !ok {
		return false
	}
	d.total--
	if c <= 1 {
		d.drop(out)
		return true
	}
	d.counts[out] = c - 1
	return true
}

func (d *Distribution) drop(out string) {
	delete(d.counts, out)
	if i := slices.Index(d.order, out); i >= 0 {
		d.order = slices.Delete(d.order, i, i+1)
	}
}

// pick returns the output selected by r, which must be in [1, Total()].
func (d *Distribution) pick(r int) string {
	for _, out := range d.order {
		c := d.counts[out]
		if r <= c {
			return out
		}
		r -= c
	}
	// Unreachable while total == Σ counts.
	return d.order[len(d.order)-1]
}

func (d *Distribution) clone() *Distribution {
	c := &Distribution{
		total:  d.total,
		counts: make(map[string]int, len(d.counts)),
		order:  slices.Clone(d.order),
	}
	for k, v := range d.counts {
		c.counts[k] = v
	}
	return c
}

func (d *Distribution) equal(o *Distribution) bool {
	if d.total != o.total || !slices.Equal(d.order, o.order) {
		return false
	}
	for _, out := range d.order {
		if d.counts[out] != o.counts[out] {
			return false
		}
	}
	return true
}

// Table maps every input token to its output distribution. An input is only
// present while its distribution is non-empty.
type Table struct {
	dists map[string]*Distribution
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{dists: make(map[string]*Distribution)}
}

// Len returns the number of input tokens.
func (t *Table) Len() int { return len(t.dists) }

// Get returns the distribution for input, or nil.
func (t *Table) Get(input string) *Distribution { return t.dists[input] }

// Inputs returns every input token in sorted order.
func (t *Table) Inputs() []string {
	inputs := make([]string, 0, len(t.dists))
	for in := range t.dists {
		inputs = append(inputs, in)
	}
	sort.Strings(inputs)
	return inputs
}

// Edges returns the number of distinct input -> output links.
func (t *Table) Edges() int {
	var n int
	for _, d := range t.dists {
		n += d.Len()
	}
	return n
}

// TotalWeight returns the number of transitions observed across all inputs.
func (t *Table) TotalWeight() int {
	var n int
	for _, d := range t.dists {
		n += d.total
	}
	return n
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{dists: make(map[string]*Distribution, len(t.dists))}
	for in, d := range t.dists {
		c.dists[in] = d.clone()
	}
	return c
}

// Equal reports whether both tables hold the same inputs, counts, totals and
// output order.
func (t *Table) Equal(o *Table) bool {
	if len(t.dists) != len(o.dists) {
		return false
	}
	for in, d := range t.dists {
		od, ok := o.dists[in]
		if !ok || !d.equal(od) {
			return false
		}
	}
	return true
}

func (t *Table) increment(in, out string) {
	d, ok := t.dists[in]
	if !ok {
		d = newDistribution()
		t.dists[in] = d
	}
	d.add(out, 1)
}

func (t *Table) decrement(in, out string) bool {
	d, ok := t.dists[in]
	if !ok {
		return false
	}
	if !d.decrement(out) {
		return false
	}
	if d.total <= 0 {
		delete(t.dists, in)
	}
	return true
}
