/*
Package markov implements the per-identity statistical text model used by
Mimicry: a first-order transition table between whitespace-delimited tokens
that can be trained and untrained one message at a time, walked to generate
new text, and serialized for a durable store.

A Model starts unloaded. It only accepts training, generation and
serialization once it has been loaded from an encoded table or explicitly
reset, so an identity whose stored record could not be read never overwrites
that record with an empty table.
*/
package markov
