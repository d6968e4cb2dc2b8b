// Package template loads and persists agent and workflow definitions as
// YAML documents behind the storage abstraction. Definitions are authored
// outside the engine; this package is the bridge between those documents
// and the in-memory registries.
package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskmesh/taskmesh/internal/agent"
	"github.com/taskmesh/taskmesh/internal/workflow"
	"github.com/taskmesh/taskmesh/pkg/oerr"
	"github.com/taskmesh/taskmesh/pkg/storage"
)

const (
	agentsPrefix    = "agents"
	workflowsPrefix = "workflows"
)

type Store struct {
	storage storage.Storage
}

func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

func agentPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", agentsPrefix, id)
}

func workflowPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", workflowsPrefix, id)
}

func (s *Store) SaveAgent(ctx context.Context, def *agent.Definition) error {
	if def == nil || def.ID == "" || def.Role == "" {
		return oerr.New(oerr.InvalidDefinition, "agent definition requires an id and a role", nil)
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return oerr.New(oerr.Internal, "failed to marshal agent definition", err)
	}
	return s.storage.Write(ctx, agentPath(def.ID), data)
}

func (s *Store) LoadAgent(ctx context.Context, id string) (*agent.Definition, error) {
	data, err := s.storage.Read(ctx, agentPath(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerr.Newf(oerr.UnknownAgent, "agent template %s does not exist", id)
		}
		return nil, oerr.Newf(oerr.Internal, "failed to read agent template %s: %v", id, err)
	}
	var def agent.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, oerr.New(oerr.InvalidDefinition, fmt.Sprintf("agent template %s is not valid YAML", id), err)
	}
	if def.ID == "" || def.Role == "" {
		return nil, oerr.Newf(oerr.InvalidDefinition, "agent template %s lacks an id or role", id)
	}
	return &def, nil
}

// ListAgents loads every stored agent definition, ordered by path.
// Unreadable documents are logged and skipped so one broken file does not
// hide the rest.
func (s *Store) ListAgents(ctx context.Context) ([]*agent.Definition, error) {
	paths, err := s.storage.List(ctx, agentsPrefix)
	if err != nil {
		return nil, oerr.New(oerr.Internal, "failed to list agent templates", err)
	}
	sort.Strings(paths)

	var defs []*agent.Definition
	for _, p := range paths {
		data, err := s.storage.Read(ctx, p)
		if err != nil {
			slog.Warn("template: failed to read agent document", "path", p, "error", err)
			continue
		}
		var def agent.Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			slog.Warn("template: skipping malformed agent document", "path", p, "error", err)
			continue
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	if err := s.storage.Delete(ctx, agentPath(id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return oerr.Newf(oerr.UnknownAgent, "agent template %s does not exist", id)
		}
		return oerr.Newf(oerr.Internal, "failed to delete agent template %s: %v", id, err)
	}
	return nil
}

func (s *Store) SaveWorkflow(ctx context.Context, def *workflow.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return oerr.New(oerr.Internal, "failed to marshal workflow definition", err)
	}
	return s.storage.Write(ctx, workflowPath(def.ID), data)
}

// LoadWorkflow reads and validates one workflow document. Structural
// problems surface as invalid-definition errors, not at execution time.
func (s *Store) LoadWorkflow(ctx context.Context, id string) (*workflow.Definition, error) {
	data, err := s.storage.Read(ctx, workflowPath(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerr.Newf(oerr.UnknownWorkflow, "workflow template %s does not exist", id)
		}
		return nil, oerr.Newf(oerr.Internal, "failed to read workflow template %s: %v", id, err)
	}
	var def workflow.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, oerr.New(oerr.InvalidDefinition, fmt.Sprintf("workflow template %s is not valid YAML", id), err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*workflow.Definition, error) {
	paths, err := s.storage.List(ctx, workflowsPrefix)
	if err != nil {
		return nil, oerr.New(oerr.Internal, "failed to list workflow templates", err)
	}
	sort.Strings(paths)

	var defs []*workflow.Definition
	for _, p := range paths {
		data, err := s.storage.Read(ctx, p)
		if err != nil {
			slog.Warn("template: failed to read workflow document", "path", p, "error", err)
			continue
		}
		var def workflow.Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			slog.Warn("template: skipping malformed workflow document", "path", p, "error", err)
			continue
		}
		if err := def.Validate(); err != nil {
			slog.Warn("template: skipping invalid workflow document", "path", p, "error", err)
			continue
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.storage.Delete(ctx, workflowPath(id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return oerr.Newf(oerr.UnknownWorkflow, "workflow template %s does not exist", id)
		}
		return oerr.Newf(oerr.Internal, "failed to delete workflow template %s: %v", id, err)
	}
	return nil
}
