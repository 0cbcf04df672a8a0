package handler

import (
	"messenger/internal/configs"
	"messenger/internal/server"
	"messenger/internal/server/store"
)

// AppDeps carries the collaborators every handler needs.
type AppDeps struct {
	Hub    *server.Hub
	Config *configs.ServerConfig
	Store  store.Store
}
