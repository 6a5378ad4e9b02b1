package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/convoflow/internal/account"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/orchestrator"
	"github.com/ignite/convoflow/internal/pkg/httputil"
	"github.com/ignite/convoflow/internal/pkg/logger"
	"github.com/ignite/convoflow/internal/provider"
	"github.com/ignite/convoflow/internal/reply"
)

// Campaigns is the orchestrator surface the API drives.
type Campaigns interface {
	StartFromOnePhrase(ctx context.Context, req orchestrator.StartRequest) (*domain.Execution, error)
	Get(id string) (*domain.Execution, error)
	List() []*domain.Execution
	Pause(ctx context.Context, id string) (*domain.Execution, error)
	Resume(ctx context.Context, id string) (*domain.Execution, error)
	Complete(ctx context.Context, id string) (*domain.Execution, error)
	Rematch(ctx context.Context, id string) (*domain.Execution, error)
	HandleInbound(ctx context.Context, in orchestrator.Inbound) (orchestrator.Signal, error)
}

// UsageReporter exposes provider token usage. *provider.Gateway implements it.
type UsageReporter interface {
	Usage() provider.UsageReport
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	campaigns  Campaigns
	classifier *intent.Classifier
	generator  *reply.Generator
	replyCfg   reply.Config
	accounts   *account.Registry
	usage      UsageReporter
}

// NewHandlers creates handlers. accounts and usage may be nil.
func NewHandlers(campaigns Campaigns, classifier *intent.Classifier, generator *reply.Generator, replyCfg reply.Config, accounts *account.Registry, usage UsageReporter) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		classifier: classifier,
		generator:  generator,
		replyCfg:   replyCfg,
		accounts:   accounts,
		usage:      usage,
	}
}

// ListExecutions returns every campaign, oldest first.
//
//	GET /api/executions
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	list := h.campaigns.List()
	status := domain.ExecutionStatus(r.URL.Query().Get("status"))
	if status != "" {
		filtered := list[:0]
		for _, e := range list {
			if e.Status == status {
				filtered = append(filtered, e)
			}
		}
		list = filtered
	}
	httputil.OK(w, map[string]any{"executions": list, "count": len(list)})
}

// StartExecution plans and launches a campaign from a one-line goal.
//
//	POST /api/executions
func (h *Handlers) StartExecution(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.StartRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	e, err := h.campaigns.StartFromOnePhrase(r.Context(), req)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.Created(w, e)
}

// GetExecution returns one campaign.
//
//	GET /api/executions/{id}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	e, err := h.campaigns.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, e)
}

// PauseExecution, ResumeExecution, CompleteExecution and RematchExecution
// change a campaign's lifecycle.
//
//	POST /api/executions/{id}/pause
func (h *Handlers) PauseExecution(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Pause)
}

//	POST /api/executions/{id}/resume
func (h *Handlers) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Resume)
}

//	POST /api/executions/{id}/complete
func (h *Handlers) CompleteExecution(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Complete)
}

//	POST /api/executions/{id}/rematch
func (h *Handlers) RematchExecution(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Rematch)
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*domain.Execution, error)) {
	e, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, e)
}

// Inbound receives a target user's reply from the automation bridge.
//
//	POST /api/inbound
func (h *Handlers) Inbound(w http.ResponseWriter, r *http.Request) {
	var in orchestrator.Inbound
	if !httputil.Decode(w, r, &in) {
		return
	}
	sig, err := h.campaigns.HandleInbound(r.Context(), in)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"accepted": true, "signal": sig})
}

type classifyRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	IncludeContext bool   `json:"include_context"`
}

// Classify runs the intent classifier on one message.
//
//	POST /api/intent/classify
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httputil.BadRequest(w, "message is required")
		return
	}
	in := h.classifier.RecognizeIntent(r.Context(), req.Message, req.UserID, req.IncludeContext)
	resp := map[string]any{"intent": in}
	if req.UserID != "" {
		resp["should_handoff"] = h.classifier.ShouldHandoffToHuman(req.UserID)
	}
	httputil.OK(w, resp)
}

type replyRequest struct {
	Message       string `json:"message"`
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name"`
	PersonaName   string `json:"persona_name"`
	Style         string `json:"style"`
	AddressByName *bool  `json:"address_by_name"`
}

// Reply drafts a persona reply without any campaign attached.
//
//	POST /api/reply
func (h *Handlers) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httputil.BadRequest(w, "message is required")
		return
	}
	cfg := h.replyCfg
	cfg.UserID = req.UserID
	cfg.UserName = req.UserName
	if req.PersonaName != "" {
		cfg.PersonaName = req.PersonaName
	}
	if req.Style != "" {
		cfg.Style = req.Style
	}
	if req.AddressByName != nil {
		cfg.AddressByName = *req.AddressByName
	}
	res, err := h.generator.GenerateReply(r.Context(), req.Message, cfg)
	if err != nil {
		httputil.Error(w, http.StatusRequestTimeout, "request cancelled")
		return
	}
	httputil.OK(w, res)
}

// ListAccounts returns the automation accounts.
//
//	GET /api/accounts
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if h.accounts == nil {
		httputil.OK(w, map[string]any{"accounts": []domain.Account{}})
		return
	}
	list, err := h.accounts.List(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"accounts": list})
}

// UpdateAccountStatus records an account going online or offline.
//
//	PUT /api/accounts/{id}/status
func (h *Handlers) UpdateAccountStatus(w http.ResponseWriter, r *http.Request) {
	if h.accounts == nil {
		httputil.NotFound(w, "no account registry configured")
		return
	}
	var body struct {
		Status domain.AccountStatus `json:"status"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	switch body.Status {
	case domain.AccountOnline, domain.AccountOffline, domain.AccountError, domain.AccountBanned:
	default:
		httputil.BadRequest(w, "status must be one of Online, Offline, Error, Banned")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.accounts.SetStatus(id, body.Status); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			httputil.NotFound(w, "account not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	a, _ := h.accounts.Get(id)
	httputil.OK(w, a)
}

// Usage reports token usage and estimated cost across providers.
//
//	GET /api/usage
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		httputil.OK(w, provider.UsageReport{ByProvider: map[provider.ID]provider.ProviderUsage{}})
		return
	}
	httputil.OK(w, h.usage.Usage())
}

// writeCampaignError maps orchestrator errors to HTTP statuses.
func writeCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, orchestrator.ErrNotFound):
		httputil.NotFound(w, "execution not found")
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, orchestrator.ErrResourceShortage):
		httputil.ErrorWithCode(w, http.StatusUnprocessableEntity, "resource_shortage", err.Error(), nil)
	default:
		logger.Error("campaign request failed", "error", err.Error())
		httputil.InternalError(w, err)
	}
}
