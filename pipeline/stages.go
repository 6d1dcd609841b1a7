package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/toolmesh/admission"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/credential"
	"github.com/hupe1980/toolmesh/reference"
)

// Canonical stage names.
const (
	StageCredential  = "credential"
	StageEnvironment = "environment"
	StageReference   = "reference"
	StageAdmission   = "admission"
)

// CredentialStage resolves the access key and billing scope and caches the
// billing scope in the session.
type CredentialStage struct {
	Resolver *credential.Resolver
	Store    core.SessionStore
}

// Name implements Stage.
func (s *CredentialStage) Name() string { return StageCredential }

// Process implements Stage.
func (s *CredentialStage) Process(ctx context.Context, req *core.Request, sess *core.Session) (core.Envelope, error) {
	if _, err := s.Resolver.Resolve(ctx, req, credential.FieldAccessKey); err != nil {
		return nil, err
	}
	scope, err := s.Resolver.Resolve(ctx, req, credential.FieldBillingScope)
	if err != nil {
		return nil, err
	}
	if cached, _ := sess.GetString(credential.FieldBillingScope); cached != scope {
		if s.Store != nil {
			if err := s.Store.Set(ctx, req.SessionID, credential.FieldBillingScope, scope); err != nil {
				return nil, fmt.Errorf("cache billing scope: %w", err)
			}
		}
		sess.SetState(credential.FieldBillingScope, scope)
	}
	return nil, nil
}

// EnvironmentStage stamps username, ticket and environment name for
// providers whose execution mode supports it.
type EnvironmentStage struct {
	Resolver *credential.Resolver
}

// Name implements Stage.
func (s *EnvironmentStage) Name() string { return StageEnvironment }

// Process implements Stage.
func (s *EnvironmentStage) Process(ctx context.Context, req *core.Request, _ *core.Session) (core.Envelope, error) {
	if !req.Mode.SupportsStamping() {
		return nil, nil
	}
	if _, err := s.Resolver.Resolve(ctx, req, credential.FieldUsername); err != nil {
		return nil, err
	}
	if _, err := s.Resolver.Resolve(ctx, req, credential.FieldTicket); err != nil {
		return nil, err
	}
	if env := s.Resolver.Environment(); env != "" {
		s.Resolver.WriteBack(req, credential.FieldEnvironment, env)
	}
	return nil, nil
}

// ReferenceStage repairs file-reference arguments against the artifacts the
// session has produced.
type ReferenceStage struct {
	Resolver *reference.Resolver
	Keys     []string
}

// Name implements Stage.
func (s *ReferenceStage) Name() string { return StageReference }

// Process implements Stage.
func (s *ReferenceStage) Process(_ context.Context, req *core.Request, sess *core.Session) (core.Envelope, error) {
	if len(s.Keys) == 0 {
		return nil, nil
	}
	s.Resolver.ResolveArgs(req.Args, s.Keys, sess.ArtifactList())
	return nil, nil
}

// AdmissionStage consults the admission service and short-circuits with the
// service's message on rejection. Any other admission error (an unreachable
// service, an undecodable answer) short-circuits as a retryable execution
// fault.
type AdmissionStage struct {
	Service core.AdmissionService
}

// Name implements Stage.
func (s *AdmissionStage) Name() string { return StageAdmission }

// Process implements Stage.
func (s *AdmissionStage) Process(ctx context.Context, req *core.Request, sess *core.Session) (core.Envelope, error) {
	scope := req.Context[credential.FieldBillingScope]
	if scope == "" {
		scope, _ = sess.GetString(credential.FieldBillingScope)
	}
	err := s.Service.CheckCanExecute(ctx, scope, req.Describe())
	if err == nil {
		return nil, nil
	}
	if msg, ok := rejectionMessage(err); ok {
		return core.ErrorResult{Kind: core.KindAdmissionRejected, Message: msg}, nil
	}
	return core.ErrorResult{Kind: core.KindExecutionFault, Message: fmt.Sprintf("admission check failed: %v", err)}, nil
}

func rejectionMessage(err error) (string, bool) {
	var rej *admission.Rejection
	if errors.As(err, &rej) {
		return rej.Message, true
	}
	var ce *core.Error
	if errors.As(err, &ce) && ce.Kind == core.KindAdmissionRejected {
		return ce.Message, true
	}
	return "", false
}

// CanonicalConfig holds the collaborators of the canonical stage list.
type CanonicalConfig struct {
	Credentials *credential.Resolver
	Store       core.SessionStore
	Admission   core.AdmissionService
	// References enables the reference stage when non-nil.
	References    *reference.Resolver
	ReferenceKeys []string
}

// Canonical returns the canonical stage list: credential, environment,
// optional reference, admission.
func Canonical(cfg CanonicalConfig) []Stage {
	stages := []Stage{
		&CredentialStage{Resolver: cfg.Credentials, Store: cfg.Store},
		&EnvironmentStage{Resolver: cfg.Credentials},
	}
	if cfg.References != nil {
		stages = append(stages, &ReferenceStage{Resolver: cfg.References, Keys: cfg.ReferenceKeys})
	}
	if cfg.Admission != nil {
		stages = append(stages, &AdmissionStage{Service: cfg.Admission})
	}
	return stages
}
