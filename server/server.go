package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/whitemike889/federation-planner/gateway"
	"github.com/whitemike889/federation-planner/registry"
)

const defaultConfigPath = "gateway.yaml"

type server struct {
	registry        *registry.Registry
	graphqlEndpoint string
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/schema/registration":
		if req.Method == http.MethodPost {
			s.registry.RegisterGateway(w, req)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case s.graphqlEndpoint:
		if req.Method == http.MethodPost {
			s.registry.AppliedGateway().ServeHTTP(w, req)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, req)
	}
}

// loadGatewayOption reads and parses the YAML gateway configuration at path.
func loadGatewayOption(path string) (gateway.GatewayOption, error) {
	var opt gateway.GatewayOption
	src, err := os.ReadFile(path)
	if err != nil {
		return opt, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(src, &opt); err != nil {
		return opt, fmt.Errorf("parse config %q: %w", path, err)
	}
	return opt, nil
}

// Run loads gateway.yaml from the working directory, builds the initial
// gateway it describes, and serves it behind a registry so a subgraph can
// push schema updates to /schema/registration without a restart.
func Run() error {
	settings, err := loadGatewayOption(defaultConfigPath)
	if err != nil {
		return err
	}

	gw, err := gateway.NewGateway(settings)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	reg := registry.NewRegistry(settings.Endpoint, gw)
	go reg.Start()

	s := &server{
		registry:        reg,
		graphqlEndpoint: settings.Endpoint,
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.Port),
		Handler: s,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt, os.Kill)
	defer stop()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown tracer provider: %v", err)
	}

	return srv.Shutdown(shutdownCtx)
}
