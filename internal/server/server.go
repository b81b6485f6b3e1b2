package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/meguriba/meguriba-backend/internal/config"
	"github.com/meguriba/meguriba-backend/internal/handler"
	"github.com/meguriba/meguriba-backend/internal/identity"
	"github.com/meguriba/meguriba-backend/internal/mailer"
	appmw "github.com/meguriba/meguriba-backend/internal/middleware"
	"github.com/meguriba/meguriba-backend/internal/realtime"
	"github.com/meguriba/meguriba-backend/internal/repository"
	"github.com/meguriba/meguriba-backend/internal/service"
	"gorm.io/gorm"
)

type Server struct {
	e        *echo.Echo
	hub      *realtime.Hub
	itemRepo repository.ItemRepository
	negRepo  repository.NegotiationRepository
	convRepo repository.ConversationRepository
	noteRepo repository.NotificationRepository
	sha      string
	build    string
}

func New(cfg *config.Config, db *gorm.DB, sha, buildTime string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) (bool, error) {
			low := strings.ToLower(origin)
			if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
				strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
				return true, nil
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false, nil
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false, nil
			}
			host := u.Hostname()
			if strings.HasSuffix(host, "vercel.app") {
				return true, nil
			}
			return false, nil
		},
	}))

	hub := realtime.NewHub()

	itemRepo := repository.NewItemRepository(db)
	negRepo := repository.NewNegotiationRepository(db)
	convRepo := repository.NewConversationRepository(db)
	noteRepo := repository.NewNotificationRepository(db)

	var authMw *appmw.AuthMiddleware
	var dir identity.Directory = identity.NopDirectory{}
	if cfg.FirebaseProjectID != "" {
		mw, err := appmw.NewAuthMiddleware(context.Background(), cfg.FirebaseProjectID)
		if err != nil {
			e.Logger.Fatalf("failed to init firebase auth: %v", err)
		}
		authMw = mw
		dir = identity.NewFirebaseDirectory(mw.Client())
	}

	mail := mailer.New(cfg)

	noteSvc := service.NewNotificationService(noteRepo)
	itemSvc := service.NewItemService(itemRepo, negRepo)
	convSvc := service.NewConversationService(convRepo, negRepo, itemRepo, noteSvc, hub)
	negSvc := service.NewNegotiationService(negRepo, convRepo, itemRepo, noteSvc, hub, mail, dir)

	itemHandler := handler.NewItemHandler(itemSvc)
	convHandler := handler.NewConversationHandler(convSvc)
	negHandler := handler.NewNegotiationHandler(negSvc)
	noteHandler := handler.NewNotificationHandler(noteSvc)
	wsHandler := handler.NewWSHandler(hub, convSvc)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    sha,
			"build_time": buildTime,
		})
	})

	api := e.Group("/api")
	requireAuth := func(h echo.HandlerFunc) echo.HandlerFunc { return h }
	if authMw != nil {
		requireAuth = authMw.RequireAuth
	}

	api.POST("/items", itemHandler.Create, requireAuth)
	api.PUT("/items/:id", itemHandler.Update, requireAuth)
	api.DELETE("/items/:id", itemHandler.Delete, requireAuth)
	api.GET("/me/items", itemHandler.ListMine, requireAuth)
	api.GET("/items", itemHandler.List)
	api.GET("/items/:id", itemHandler.Get)

	api.POST("/items/:id/requests", negHandler.Create, requireAuth)
	api.GET("/me/requests", negHandler.ListMine, requireAuth)
	api.GET("/requests/:id", negHandler.Get, requireAuth)
	api.POST("/requests/:id/accept-owner", negHandler.AcceptByOwner, requireAuth)
	api.POST("/requests/:id/accept-requester", negHandler.AcceptByRequester, requireAuth)
	api.POST("/requests/:id/reject", negHandler.Reject, requireAuth)
	api.GET("/requests/:id/handoff-code", negHandler.OwnerCode, requireAuth)
	api.POST("/conversations/:id/redeem", negHandler.Redeem, requireAuth)

	api.POST("/items/:id/conversations", convHandler.CreateFromItem, requireAuth)
	api.GET("/conversations", convHandler.List, requireAuth)
	api.GET("/conversations/:id", convHandler.Get, requireAuth)
	api.GET("/conversations/:id/messages", convHandler.ListMessages, requireAuth)
	api.POST("/conversations/:id/messages", convHandler.CreateMessage, requireAuth)
	api.POST("/conversations/:id/read", convHandler.MarkRead, requireAuth)

	api.GET("/notifications", noteHandler.List, requireAuth)
	api.POST("/notifications/read-all", noteHandler.MarkAllRead, requireAuth)
	api.POST("/notifications/conversations/:id/read", noteHandler.MarkByConversation, requireAuth)

	api.GET("/ws", wsHandler.Connect, requireAuth)

	return &Server{
		e:        e,
		hub:      hub,
		itemRepo: itemRepo,
		negRepo:  negRepo,
		convRepo: convRepo,
		noteRepo: noteRepo,
		sha:      sha,
		build:    buildTime,
	}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.e.Shutdown(ctx)
}

func (s *Server) SetDB(db *gorm.DB) {
	s.itemRepo.SetDB(db)
	s.negRepo.SetDB(db)
	s.convRepo.SetDB(db)
	s.noteRepo.SetDB(db)
}
