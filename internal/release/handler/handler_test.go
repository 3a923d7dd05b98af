package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	filemodels "keygate/internal/files/models"
	filestore "keygate/internal/files/store/memory"
	keyrequestservice "keygate/internal/keyrequest/service"
	keyrequeststore "keygate/internal/keyrequest/store/memory"
	ledgerservice "keygate/internal/ledger/service"
	ledgerstore "keygate/internal/ledger/store/memory"
	"keygate/internal/policy"
	"keygate/internal/quorum"
	"keygate/internal/release/service"
	ticketstore "keygate/internal/release/store/memory"
	"keygate/internal/signature"
	id "keygate/pkg/domain"
	authmw "keygate/pkg/platform/middleware/auth"
	"keygate/pkg/testutil"
)

const material = "file-key-material"

type fixture struct {
	router    http.Handler
	ledger    *ledgerservice.Service
	requests  *keyrequestservice.Service
	roster    []id.Address
	principal authmw.Principal
	wallet    *secp256k1.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var roster []id.Address
	for i := byte(1); i <= 3; i++ {
		var a id.Address
		a[19] = i
		roster = append(roster, a)
	}
	registry, err := quorum.NewRegistry(1, roster, 2)
	require.NoError(t, err)

	files := filestore.New()
	file, err := filemodels.NewFile("q3-report", "(role:manager OR role:admin) AND dept:IT", id.UserID(uuid.New()), time.Now())
	require.NoError(t, err)
	files.Put(file, []byte(material))

	ledger, err := ledgerservice.New(ledgerstore.New(), registry)
	require.NoError(t, err)
	requests, err := keyrequestservice.New(keyrequeststore.New(), files, ledger, registry)
	require.NoError(t, err)
	release, err := service.New(requests, ledger, ticketstore.New(), files, service.WithLedgerRetries(1, 0))
	require.NoError(t, err)

	wallet, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	New(release, logger).Register(r)

	return &fixture{
		router:    r,
		ledger:    ledger,
		requests:  requests,
		roster:    roster,
		principal: authmw.Principal{UserID: id.UserID(uuid.New()), Role: "manager", Department: "IT"},
		wallet:    wallet,
	}
}

func (f *fixture) open(t *testing.T, approvals int) id.KeyID {
	t.Helper()
	p := f.principal
	created, err := f.requests.CreateRequest(context.Background(), "q3-report", p.UserID,
		policy.Subject{Role: p.Role, Department: p.Department})
	require.NoError(t, err)
	for _, a := range f.roster[:approvals] {
		_, err := f.ledger.RecordApproval(context.Background(), created.Request.KeyID, a)
		require.NoError(t, err)
	}
	return created.Request.KeyID
}

func (f *fixture) verifyBody(keyID id.KeyID, signer *secp256k1.PrivateKey) map[string]string {
	msg := signature.ChallengeMessage("q3-report")
	return map[string]string{
		"key_id":    keyID.String(),
		"file_id":   "q3-report",
		"message":   msg,
		"signature": signature.SignPersonal(signer, msg),
		"address":   signature.AddressFromPublicKey(f.wallet.PubKey()).String(),
	}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Request {
	return testutil.WithPrincipal(testutil.NewJSONRequest(t, http.MethodPost, path, body), f.principal)
}

func TestVerifyThenRelease(t *testing.T) {
	f := newFixture(t)
	keyID := f.open(t, 2)

	rr := testutil.DoRequest(f.router, f.post(t, "/access/verify-signature", f.verifyBody(keyID, f.wallet)))
	testutil.AssertStatusOK(t, rr)
	verified := testutil.UnmarshalResponse[VerifySignatureResponse](t, rr)
	assert.True(t, verified.Verified)
	assert.NotEmpty(t, verified.Ticket)

	releaseBody := map[string]string{"key_id": keyID.String(), "file_id": "q3-report", "ticket": verified.Ticket}
	rr = testutil.DoRequest(f.router, f.post(t, "/access/release", releaseBody))
	testutil.AssertStatusOK(t, rr)
	released := testutil.UnmarshalResponse[ReleaseResponse](t, rr)
	key, err := base64.StdEncoding.DecodeString(released.Key)
	require.NoError(t, err)
	assert.Equal(t, material, string(key))
	assert.Equal(t, 2, released.Approvals)

	rr = testutil.DoRequest(f.router, f.post(t, "/access/release", releaseBody))
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "already_consumed")
}

func TestVerifySignatureErrors(t *testing.T) {
	f := newFixture(t)
	keyID := f.open(t, 0)

	t.Run("unauthenticated", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewJSONRequest(t, http.MethodPost, "/access/verify-signature",
			f.verifyBody(keyID, f.wallet)))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("signature from another wallet", func(t *testing.T) {
		other, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		rr := testutil.DoRequest(f.router, f.post(t, "/access/verify-signature", f.verifyBody(keyID, other)))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "signature_invalid")
		testutil.AssertErrorDetail(t, rr, "reason", signature.ReasonMismatch)
	})

	t.Run("malformed address", func(t *testing.T) {
		body := f.verifyBody(keyID, f.wallet)
		body["address"] = "0x1234"
		rr := testutil.DoRequest(f.router, f.post(t, "/access/verify-signature", body))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestReleaseErrors(t *testing.T) {
	f := newFixture(t)

	t.Run("quorum not reached", func(t *testing.T) {
		keyID := f.open(t, 1)
		rr := testutil.DoRequest(f.router, f.post(t, "/access/verify-signature", f.verifyBody(keyID, f.wallet)))
		verified := testutil.UnmarshalResponse[VerifySignatureResponse](t, rr)

		rr = testutil.DoRequest(f.router, f.post(t, "/access/release", map[string]string{
			"key_id": keyID.String(), "file_id": "q3-report", "ticket": verified.Ticket,
		}))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "quorum_not_reached")
		testutil.AssertErrorDetail(t, rr, "count", "1")
	})

	t.Run("missing ticket", func(t *testing.T) {
		keyID := f.open(t, 2)
		rr := testutil.DoRequest(f.router, f.post(t, "/access/release", map[string]string{
			"key_id": keyID.String(), "file_id": "q3-report",
		}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	t.Run("unknown request", func(t *testing.T) {
		keyID, err := id.NewKeyID()
		require.NoError(t, err)
		rr := testutil.DoRequest(f.router, f.post(t, "/access/release", map[string]string{
			"key_id": keyID.String(), "file_id": "q3-report", "ticket": uuid.NewString(),
		}))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "unknown_request")
	})
}
