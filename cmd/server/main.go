package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/rs/cors"

	"portalchat/config"
	"portalchat/internal/cache"
	"portalchat/internal/database"
	"portalchat/internal/di"
	"portalchat/internal/messaging"
	"portalchat/internal/user"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()

	if err := messaging.NewPostgresRepository(sqlDB).EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to run messaging migrations: %v", err)
	}

	gormDB, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := user.NewGormStorage(gormDB).Migrate(); err != nil {
		log.Fatalf("Failed to run directory migrations: %v", err)
	}

	var redisCache *cache.RedisCache
	if cfg.RedisAddr != "" {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Failed to initialize Redis cache: %v", err)
		}
	} else {
		log.Println("REDIS_ADDR not set, running without the username cache")
	}

	messagingHub := di.InitializeHub(cfg, sqlDB, gormDB, redisCache)

	router := mux.NewRouter()
	router.HandleFunc("/ws", messagingHub.HandleSocket)
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router)

	log.Printf("Starting server on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
