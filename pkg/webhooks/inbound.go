package webhooks

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/google/go-github/v57/github"
	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
)

// RepositoryLookup finds the hub repository behind a GitHub owner/name.
type RepositoryLookup interface {
	GetProviderByName(ctx context.Context, name string) (*models.Provider, error)
	GetProviderNamespaceByName(ctx context.Context, providerID int64, name string) (*models.ProviderNamespace, error)
	GetRepositoryByName(ctx context.Context, providerNamespaceID int64, name string) (*models.Repository, error)
}

// ImportTrigger queues a role import for a repository at reference.
type ImportTrigger interface {
	TriggerImport(ctx context.Context, repo *models.Repository, reference string) (*models.ImportTask, error)
}

// InboundConfig holds the verification material for inbound hooks. A
// source without its secret or key refuses every notification.
type InboundConfig struct {
	GitHubSecret    string
	TravisPublicKey *rsa.PublicKey
}

// InboundResult is the reply to an accepted notification.
type InboundResult struct {
	Result string             `json:"result"`
	Detail string             `json:"detail,omitempty"`
	Task   *models.ImportTask `json:"task,omitempty"`
}

const (
	resultQueued   = "queued"
	resultIgnored  = "ignored"
	resultRejected = "rejected"
	resultError    = "error"
)

// InboundHandlers turns GitHub pushes and Travis CI build notifications
// into imports.
type InboundHandlers struct {
	repos   RepositoryLookup
	trigger ImportTrigger
	cfg     InboundConfig
	audit   *auth.AuditLogger
	metrics *observability.Metrics

	travisKey atomic.Pointer[rsa.PublicKey]
}

// NewInboundHandlers wires the inbound endpoints. audit and metrics may be nil.
func NewInboundHandlers(repos RepositoryLookup, trigger ImportTrigger, cfg InboundConfig,
	audit *auth.AuditLogger, metrics *observability.Metrics) *InboundHandlers {
	h := &InboundHandlers{repos: repos, trigger: trigger, cfg: cfg, audit: audit, metrics: metrics}
	h.travisKey.Store(cfg.TravisPublicKey)
	return h
}

// SetTravisPublicKey replaces the key used to verify Travis notifications.
func (h *InboundHandlers) SetTravisPublicKey(key *rsa.PublicKey) {
	h.travisKey.Store(key)
}

// RegisterRoutes mounts the inbound endpoints.
func (h *InboundHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/webhooks/github/", h.githubPush).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/notifications/", h.travisNotification).Methods(http.MethodPost)
}

var errNotConfigured = errors.WithType(errors.New("Inbound notifications from this source are not configured."), errors.Forbidden)

func (h *InboundHandlers) observe(source, result string) {
	if h.metrics != nil {
		h.metrics.WebhooksReceivedTotal.WithLabelValues(source, result).Inc()
	}
}

func (h *InboundHandlers) reject(w http.ResponseWriter, r *http.Request, source string, err error) {
	h.observe(source, resultRejected)
	h.audit.LogFromRequest(r, auth.ActionWebhookRejected, source, "", auth.StatusDenied, err)
	httputil.WriteErr(w, r, err)
}

func (h *InboundHandlers) githubPush(w http.ResponseWriter, r *http.Request) {
	const source = "github"
	if h.cfg.GitHubSecret == "" {
		h.reject(w, r, source, errNotConfigured)
		return
	}
	payload, err := github.ValidatePayload(r, []byte(h.cfg.GitHubSecret))
	if err != nil {
		h.reject(w, r, source, errors.WithType(fmt.Errorf("invalid signature: %v", err), errors.Forbidden))
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.observe(source, resultIgnored)
		httputil.WriteSuccess(w, InboundResult{Result: resultIgnored, Detail: err.Error()})
		return
	}
	push, ok := event.(*github.PushEvent)
	if !ok {
		h.observe(source, resultIgnored)
		httputil.WriteSuccess(w, InboundResult{Result: resultIgnored, Detail: "not a push event"})
		return
	}
	if push.GetDeleted() {
		h.observe(source, resultIgnored)
		httputil.WriteSuccess(w, InboundResult{Result: resultIgnored, Detail: "branch deleted"})
		return
	}

	owner, name := splitFullName(push.GetRepo().GetFullName())
	if owner == "" {
		owner, name = push.GetRepo().GetOwner().GetLogin(), push.GetRepo().GetName()
	}
	branch := strings.TrimPrefix(push.GetRef(), "refs/heads/")
	h.queue(w, r, source, owner, name, branch, push.GetRepo().GetDefaultBranch())
}

// TravisNotification is the JSON document in Travis CI's payload form field.
type TravisNotification struct {
	ID            int64  `json:"id"`
	Number        string `json:"number"`
	Type          string `json:"type"`
	State         string `json:"state"`
	Result        *int   `json:"result"`
	StatusMessage string `json:"status_message"`
	Branch        string `json:"branch"`
	Commit        string `json:"commit"`
	Repository    struct {
		Name      string `json:"name"`
		OwnerName string `json:"owner_name"`
	} `json:"repository"`
}

// Passed reports whether the build succeeded.
func (n *TravisNotification) Passed() bool {
	if n.Result != nil {
		return *n.Result == 0
	}
	switch n.StatusMessage {
	case "Passed", "Fixed":
		return true
	}
	return false
}

func (h *InboundHandlers) travisNotification(w http.ResponseWriter, r *http.Request) {
	const source = "travis"
	key := h.travisKey.Load()
	if key == nil {
		h.reject(w, r, source, errNotConfigured)
		return
	}
	payload := r.PostFormValue("payload")
	if err := VerifyTravisSignature(key, []byte(payload), r.Header.Get("Signature")); err != nil {
		h.reject(w, r, source, err)
		return
	}

	var n TravisNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		h.observe(source, resultRejected)
		httputil.WriteErr(w, r, errors.WithType(fmt.Errorf("invalid payload: %v", err), errors.BadRequest))
		return
	}
	if n.Type == "pull_request" || !n.Passed() {
		h.observe(source, resultIgnored)
		httputil.WriteSuccess(w, InboundResult{Result: resultIgnored, Detail: "build did not pass or is a pull request"})
		return
	}
	h.queue(w, r, source, n.Repository.OwnerName, n.Repository.Name, n.Branch, "")
}

// queue looks up the repository and triggers an import when branch is the
// one the repository imports from.
func (h *InboundHandlers) queue(w http.ResponseWriter, r *http.Request, source, owner, name, branch, defaultBranch string) {
	ctx := r.Context()
	logger := observability.GetLogger(ctx).WithFields(map[string]interface{}{
		"source":     source,
		"repository": owner + "/" + name,
		"branch":     branch,
	})

	repo, err := h.findRepository(ctx, owner, name)
	if errors.Is(err, errors.NotFound) {
		h.observe(source, resultIgnored)
		httputil.WriteSuccess(w, InboundResult{Result: resultIgnored, Detail: "repository is not imported"})
		return
	}
	if err != nil {
		h.observe(source, resultError)
		httputil.WriteErr(w, r, err)
		return
	}

	if !ImportsBranch(repo, branch, defaultBranch) {
		h.observe(source, resultIgnored)
		httputil.WriteSuccess(w, InboundResult{Result: resultIgnored, Detail: fmt.Sprintf("branch %q is not the import branch", branch)})
		return
	}

	task, err := h.trigger.TriggerImport(ctx, repo, branch)
	if err != nil {
		h.observe(source, resultError)
		logger.WithError(err).Error("failed to queue import")
		httputil.WriteErr(w, r, err)
		return
	}
	h.observe(source, resultQueued)
	logger.WithField("task_id", task.ID).Info("import queued from notification")
	httputil.WriteAccepted(w, InboundResult{Result: resultQueued, Task: task})
}

func (h *InboundHandlers) findRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	if owner == "" || name == "" {
		return nil, errors.NotFoundf("repository %s/%s", owner, name)
	}
	provider, err := h.repos.GetProviderByName(ctx, models.ProviderGitHub)
	if err != nil {
		return nil, err
	}
	pns, err := h.repos.GetProviderNamespaceByName(ctx, provider.ID, owner)
	if err != nil {
		return nil, err
	}
	return h.repos.GetRepositoryByName(ctx, pns.ID, name)
}

// ImportsBranch reports whether a push to branch should re-import repo. A
// repository without an import branch follows defaultBranch, and accepts
// any branch when that is unknown too.
func ImportsBranch(repo *models.Repository, branch, defaultBranch string) bool {
	want := repo.ImportBranch
	if want == "" {
		want = defaultBranch
	}
	return want == "" || want == branch
}

func splitFullName(fullName string) (string, string) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok {
		return "", ""
	}
	return owner, name
}

// VerifyTravisSignature checks the base64 RSA-SHA1 signature Travis CI
// sends over the payload form field.
func VerifyTravisSignature(key *rsa.PublicKey, payload []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) == 0 {
		return errors.WithType(errors.New("missing or malformed Signature header"), errors.Forbidden)
	}
	digest := sha1.Sum(payload)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA1, digest[:], sig); err != nil {
		return errors.WithType(errors.New("invalid signature"), errors.Forbidden)
	}
	return nil
}

// ParseRSAPublicKey reads a PEM "PUBLIC KEY" or "RSA PUBLIC KEY" block.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return rsaKey, nil
}

// LoadTravisPublicKey reads the key from path. An empty path returns nil,
// which disables the Travis endpoint.
func LoadTravisPublicKey(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read travis public key: %w", err)
	}
	return ParseRSAPublicKey(data)
}
