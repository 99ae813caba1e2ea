package main

import (
	"log/slog"
	"net/http"

	"github.com/CTAG07/Mimicry/pkg/engine"
)

type Server struct {
	config    *Config
	logger    *slog.Logger
	engine    *engine.Engine
	modelAPI  *ModelAPI
	indexAPI  *IndexAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

func NewServer(config *Config, logger *slog.Logger, eng *engine.Engine, actionChan chan string) *Server {
	server := &Server{
		config:    config,
		logger:    logger,
		engine:    eng,
		modelAPI:  NewModelAPI(eng, logger),
		indexAPI:  NewIndexAPI(eng, logger),
		statsAPI:  NewStatsAPI(eng.Pool(), logger),
		serverAPI: NewServerAPI(config, actionChan, logger),
		apiMux:    http.NewServeMux(),
	}

	server.modelAPI.RegisterRoutes(server.apiMux)
	server.indexAPI.RegisterRoutes(server.apiMux)
	server.statsAPI.RegisterRoutes(server.apiMux)
	server.serverAPI.RegisterRoutes(server.apiMux)

	return server
}
