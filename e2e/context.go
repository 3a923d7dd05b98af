//go:build e2e

// Package e2e drives the assembled HTTP surface through the behaviour
// scenarios under features/.
package e2e

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	filemodels "keygate/internal/files/models"
	filememory "keygate/internal/files/store/memory"
	keyrequesthandler "keygate/internal/keyrequest/handler"
	keyrequestservice "keygate/internal/keyrequest/service"
	keyrequestmemory "keygate/internal/keyrequest/store/memory"
	ledgerservice "keygate/internal/ledger/service"
	ledgermemory "keygate/internal/ledger/store/memory"
	"keygate/internal/platform/config"
	"keygate/internal/quorum"
	releasehandler "keygate/internal/release/handler"
	releaseservice "keygate/internal/release/service"
	ticketmemory "keygate/internal/release/store/memory"
	"keygate/internal/session"
	"keygate/internal/simulation"
	simulationhandler "keygate/internal/simulation/handler"
	httptransport "keygate/internal/transport/http"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/middleware/admin"
	authmw "keygate/pkg/platform/middleware/auth"
)

const opsToken = "e2e-ops-token"

// TestContext holds one scenario's server and the caller's state between steps.
type TestContext struct {
	server *httptest.Server
	client *http.Client
	jwt    *session.JWTService
	files  *filememory.Store

	principal authmw.Principal
	token     string
	wallet    *secp256k1.PrivateKey
	fileKeys  map[id.FileID][]byte

	fileID id.FileID
	keyID  string
	ticket string

	lastStatus int
	lastBody   []byte
}

// NewTestContext assembles a fresh in-memory deployment with the demo
// roster and the approval simulator mounted.
func NewTestContext() (*TestContext, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := quorum.ParseRegistry(1, config.DefaultAuthorities, config.DefaultThreshold)
	if err != nil {
		return nil, err
	}

	files := filememory.New()
	ledger, err := ledgerservice.New(ledgermemory.New(), registry, ledgerservice.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	requests, err := keyrequestservice.New(keyrequestmemory.New(), files, ledger, registry,
		keyrequestservice.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	release, err := releaseservice.New(requests, ledger, ticketmemory.New(), files,
		releaseservice.WithLogger(logger),
		releaseservice.WithLedgerRetries(1, 0),
	)
	if err != nil {
		return nil, err
	}
	simulator, err := simulation.New(ledger, registry, simulation.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	jwt := session.NewJWTService("e2e-signing-key", "keygate-accounts", "keygate")
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:      logger,
		Tokens:      jwt,
		Health:      ledger,
		KeyRequests: keyrequesthandler.New(requests, logger),
		Release:     releasehandler.New(release, logger),
		Simulation:  simulationhandler.New(simulator, logger),
		OpsToken:    opsToken,
	})

	wallet, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	return &TestContext{
		server:   httptest.NewServer(router),
		client:   &http.Client{Timeout: 5 * time.Second},
		jwt:      jwt,
		files:    files,
		wallet:   wallet,
		fileKeys: make(map[id.FileID][]byte),
	}, nil
}

func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
	}
}

func (tc *TestContext) seedFile(fileID id.FileID, policy string) error {
	file, err := filemodels.NewFile(fileID, policy, id.UserID(uuid.New()), time.Now())
	if err != nil {
		return err
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	tc.files.Put(file, key)
	tc.fileKeys[fileID] = key
	return nil
}

func (tc *TestContext) signIn(p authmw.Principal) error {
	token, err := tc.jwt.IssueToken(p, time.Hour)
	if err != nil {
		return err
	}
	tc.principal = p
	tc.token = token
	return nil
}

func (tc *TestContext) POST(path string, body any) error {
	req, err := tc.jsonRequest(path, body)
	if err != nil {
		return err
	}
	return tc.do(req)
}

// opsPOST is POST with the operator token the simulator requires.
func (tc *TestContext) opsPOST(path string, body any) error {
	req, err := tc.jsonRequest(path, body)
	if err != nil {
		return err
	}
	req.Header.Set(admin.HeaderOpsToken, opsToken)
	return tc.do(req)
}

func (tc *TestContext) jsonRequest(path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, tc.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.server.URL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

// ResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) ResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, tc.lastBody)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response: %s", field, tc.lastBody)
	}
	return v, nil
}
