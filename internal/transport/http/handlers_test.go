package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"gantry/internal/actor"
	"gantry/internal/audit"
	"gantry/internal/cache"
	"gantry/internal/dispatch"
	dismetrics "gantry/internal/dispatch/metrics"
	"gantry/internal/events"
	"gantry/internal/permission"
	"gantry/internal/procedure"
	"gantry/internal/repository"
	"gantry/internal/storage"
	"gantry/internal/tenant"
	"gantry/pkg/domain"
	"gantry/pkg/domainerrors"
)

type HandlerSuite struct {
	suite.Suite
	server *httptest.Server
	issuer *actor.Issuer
	tenant *tenant.Tenant
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tenants := tenant.NewInMemory()
	t, err := tenant.New(domain.TenantID(uuid.New()), "acme", time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(tenants.Create(context.Background(), t))
	s.tenant = t

	permRegistry, err := permission.NewRegistry(permission.Graph{"item.create": {"item.read"}})
	s.Require().NoError(err)

	registry := procedure.NewRegistry(logger)
	s.Require().NoError(registry.Register(procedure.Definition{
		Name:       "item.create",
		Kind:       procedure.KindMutation,
		EntityType: "item",
		InputSchema: `{
			"type": "object",
			"required": ["name"],
			"properties": {"name": {"type": "string", "minLength": 1}}
		}`,
		RequiredPermission: "item.create",
		Handler: func(ctx context.Context, input map[string]any, inv *procedure.Invocation) (*procedure.Result, error) {
			m, err := inv.Repo.Insert(ctx, input)
			if err != nil {
				return nil, err
			}
			return &procedure.Result{Value: m.After, Mutation: m}, nil
		},
	}))
	s.Require().NoError(registry.Register(procedure.Definition{
		Name:       "item.boom",
		Kind:       procedure.KindQuery,
		EntityType: "item",
		Handler: func(context.Context, map[string]any, *procedure.Invocation) (*procedure.Result, error) {
			return nil, domainerrors.New(domainerrors.CodeUnavailable, "downstream unavailable")
		},
	}))

	metrics := dismetrics.NewWith(prometheus.NewRegistry())
	c := cache.NewMemory()
	dispatcher := dispatch.New(
		registry,
		actor.NewResolver("test-key", "gantry-test", tenants),
		permission.NewGate(permRegistry, logger),
		storage.NewMemory(nil),
		c,
		dispatch.NewPipeline(audit.NewRecorder(audit.NewInMemory()), events.NewInMemory(), c, metrics, logger),
		metrics,
		logger,
		repository.Policy{DefaultPageSize: 20, MaxPageSize: 100},
	)

	s.issuer = actor.NewIssuer("test-key", "gantry-test")
	s.server = httptest.NewServer(NewRouter(NewHandler(dispatcher, logger)))
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) post(name, body, token string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/v1/procedures/"+name, strings.NewReader(body))
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *HandlerSuite) token(perms []string) string {
	tok, err := s.issuer.Token(domain.ActorID(uuid.New()), s.tenant.ID, perms, false, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) decode(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *HandlerSuite) TestProcedureEndpoint() {
	s.Run("successful mutation returns result envelope", func() {
		resp := s.post("item.create", `{"name":"Widget"}`, s.token([]string{"item.create", "item.read"}))
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal("application/json", resp.Header.Get("Content-Type"))
		s.NotEmpty(resp.Header.Get("X-Request-Id"))

		body := s.decode(resp)
		result, ok := body["result"].(map[string]any)
		s.Require().True(ok)
		fields, ok := result["fields"].(map[string]any)
		s.Require().True(ok)
		s.Equal("Widget", fields["name"])
	})

	s.Run("schema-invalid input is a 400", func() {
		resp := s.post("item.create", `{"name":""}`, s.token([]string{"item.create", "item.read"}))
		s.Equal(http.StatusBadRequest, resp.StatusCode)
		body := s.decode(resp)
		s.Equal("bad_request", body["error"])
	})

	s.Run("missing credential is a 401", func() {
		resp := s.post("item.create", `{"name":"Widget"}`, "")
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
		body := s.decode(resp)
		s.Equal("unauthorized", body["error"])
	})

	s.Run("insufficient permissions is a 403", func() {
		resp := s.post("item.create", `{"name":"Widget"}`, s.token([]string{"item.read"}))
		s.Equal(http.StatusForbidden, resp.StatusCode)
	})

	s.Run("unknown procedure is a 404", func() {
		resp := s.post("item.promote", `{}`, s.token(nil))
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})

	s.Run("downstream unavailability is a 503", func() {
		resp := s.post("item.boom", `{}`, s.token(nil))
		s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
		body := s.decode(resp)
		s.Equal("unavailable", body["error"])
		s.Equal("downstream unavailable", body["message"])
	})

	s.Run("request id from upstream is honored", func() {
		req, err := http.NewRequest(http.MethodPost, s.server.URL+"/v1/procedures/item.boom", strings.NewReader(`{}`))
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+s.token(nil))
		req.Header.Set("X-Request-Id", "upstream-7")
		resp, err := s.server.Client().Do(req)
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal("upstream-7", resp.Header.Get("X-Request-Id"))
	})
}

func (s *HandlerSuite) TestHealthz() {
	resp, err := s.server.Client().Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
