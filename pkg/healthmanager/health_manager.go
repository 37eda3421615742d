package healthmanager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

const DefaultPort = 7888

// ReadinessChecker reports whether a component is serving.
type ReadinessChecker interface {
	Ready() bool
}

type HealthManager struct {
	checkers []ReadinessChecker
	port     int
	srv      *http.Server
}

func NewHealthManager(port int) *HealthManager {
	if port == 0 {
		port = DefaultPort
	}
	return &HealthManager{
		port: port,
	}
}

func (h *HealthManager) AddReadinessChecker(checker ReadinessChecker) {
	h.checkers = append(h.checkers, checker)
}

func (h *HealthManager) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", h.livenessProbe)
	mux.HandleFunc("/readyz", h.readinessProbe)
	h.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.port),
		Handler:      mux,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	go func() {
		logger.L().Info("starting health manager", helpers.Int("port", h.port))
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Ctx(ctx).Fatal("failed to start health manager", helpers.Error(err), helpers.Int("port", h.port))
		}
	}()
}

func (h *HealthManager) Stop(ctx context.Context) error {
	if h.srv == nil {
		return nil
	}
	return h.srv.Shutdown(ctx)
}

func (h *HealthManager) livenessProbe(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *HealthManager) readinessProbe(w http.ResponseWriter, _ *http.Request) {
	if len(h.checkers) == 0 {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for _, checker := range h.checkers {
		if !checker.Ready() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
