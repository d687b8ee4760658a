// Package http exposes the engine over a small JSON API: instance and
// task lifecycle, operational status, Prometheus metrics and Mermaid
// diagrams. It is the transport the serve command mounts; embedding
// applications can mount the handler on their own mux instead.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/sluice"
	"github.com/aretw0/sluice/internal/presentation/graph"
	"github.com/aretw0/sluice/pkg/domain"
)

// Engine is the slice of the engine the API serves. Deployment and
// recovery stay outside; they happen before the listener comes up.
type Engine interface {
	Start(ctx context.Context, definitionID string, variables map[string]any, opts ...sluice.StartOption) (string, error)
	CompleteTask(ctx context.Context, taskID string, variables map[string]any) (bool, error)
	CancelInstance(ctx context.Context, instanceID string) error
	Instance(id string) (*domain.ProcessInstance, bool)
	ActiveInstances() []*domain.ProcessInstance
	Task(id string) (*domain.TaskInstance, bool)
	ActiveTasks() []*domain.TaskInstance
	TasksForAssignee(assignee string) []*domain.TaskInstance
	Definition(id string) (*domain.ProcessDefinition, bool)
	Status() sluice.EngineStatus
}

var _ Engine = (*sluice.Engine)(nil)

var validate = validator.New()

// Server holds the handlers behind NewHandler.
type Server struct {
	Engine Engine
}

// NewHandler mounts the API routes and returns the root handler.
func NewHandler(engine Engine) http.Handler {
	s := &Server{Engine: engine}
	r := chi.NewRouter()

	r.Get("/healthz", s.health)
	r.Get("/status", s.status)
	r.Get("/definitions/{definitionID}/diagram", s.diagram)
	r.Post("/instances", s.startInstance)
	r.Get("/instances", s.listInstances)
	r.Get("/instances/{instanceID}", s.getInstance)
	r.Delete("/instances/{instanceID}", s.cancelInstance)
	r.Get("/tasks", s.listTasks)
	r.Get("/tasks/{taskID}", s.getTask)
	r.Post("/tasks/{taskID}/complete", s.completeTask)
	r.Handle("/metrics", promhttp.Handler())

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Status())
}

// startInstance handles POST /instances.
func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	var body startInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&body); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusUnprocessableEntity)
		return
	}

	var opts []sluice.StartOption
	if body.BusinessKey != "" {
		opts = append(opts, sluice.WithBusinessKey(body.BusinessKey))
	}

	id, err := s.Engine.Start(r.Context(), body.DefinitionID, body.Variables, opts...)
	if errors.Is(err, domain.ErrDefinitionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Start error: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, startInstanceResponse{InstanceID: id})
}

// listInstances handles GET /instances. Only ACTIVE instances are
// listed; terminal ones stay reachable under their id.
func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	instances := s.Engine.ActiveInstances()
	out := make([]instanceResponse, 0, len(instances))
	for _, inst := range instances {
		out = append(out, mapInstance(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.Engine.Instance(chi.URLParam(r, "instanceID"))
	if !ok {
		http.Error(w, domain.ErrInstanceNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, mapInstance(inst))
}

// cancelInstance handles DELETE /instances/{id}. Cancelling an already
// terminal instance is a no-op and still answers 204.
func (s *Server) cancelInstance(w http.ResponseWriter, r *http.Request) {
	err := s.Engine.CancelInstance(r.Context(), chi.URLParam(r, "instanceID"))
	if errors.Is(err, domain.ErrInstanceNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Cancel error: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listTasks handles GET /tasks. With an assignee parameter it narrows to
// that assignee's work list; an empty value selects unassigned tasks.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []*domain.TaskInstance
	if r.URL.Query().Has("assignee") {
		tasks = s.Engine.TasksForAssignee(r.URL.Query().Get("assignee"))
	} else {
		tasks = s.Engine.ActiveTasks()
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, mapTask(task))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.Engine.Task(chi.URLParam(r, "taskID"))
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, mapTask(task))
}

// completeTask handles POST /tasks/{id}/complete. Completing a task that
// is already finished reports completed=false rather than an error, so
// two operators racing on one work item both get a definite answer.
func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, ok := s.Engine.Task(taskID); !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	var body completeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	done, err := s.Engine.CompleteTask(r.Context(), taskID, body.Variables)
	if err != nil {
		http.Error(w, fmt.Sprintf("Complete error: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, completeTaskResponse{Completed: done})
}

// diagram handles GET /definitions/{id}/diagram. With an instance_id
// parameter the nodes holding that instance's tokens are highlighted.
func (s *Server) diagram(w http.ResponseWriter, r *http.Request) {
	def, ok := s.Engine.Definition(chi.URLParam(r, "definitionID"))
	if !ok {
		http.Error(w, domain.ErrDefinitionNotFound.Error(), http.StatusNotFound)
		return
	}

	var overlay *graph.GraphOverlay
	if instanceID := r.URL.Query().Get("instance_id"); instanceID != "" {
		inst, ok := s.Engine.Instance(instanceID)
		if !ok {
			http.Error(w, domain.ErrInstanceNotFound.Error(), http.StatusNotFound)
			return
		}
		overlay = &graph.GraphOverlay{}
		for _, tok := range inst.ActiveTokens() {
			overlay.ActiveNodes = append(overlay.ActiveNodes, tok.CurrentNodeID)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.GenerateMermaid(def, overlay))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
