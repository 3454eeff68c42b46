package handler

import (
	"crapchat/internal/app/chat"
	"crapchat/internal/app/store"
	"crapchat/internal/configs"
)

type AppDeps struct {
	Hub    *chat.Hub
	Config *configs.AppConfig
	Store  *store.Postgres
}
