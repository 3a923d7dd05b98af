//go:build e2e

package e2e

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/cucumber/godog"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"keygate/internal/platform/config"
	"keygate/internal/signature"
	id "keygate/pkg/domain"
	authmw "keygate/pkg/platform/middleware/auth"
)

// RegisterSteps registers the key release step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	steps := &releaseSteps{tc: tc}

	// Setup
	ctx.Step(`^the file "([^"]*)" is protected by "([^"]*)"$`, steps.fileProtectedBy)
	ctx.Step(`^I am signed in as a "([^"]*)" in "([^"]*)" with clearance "([^"]*)"$`, steps.signedInAs)
	ctx.Step(`^my role changes to "([^"]*)"$`, steps.roleChanges)

	// Request lifecycle
	ctx.Step(`^I request access to file "([^"]*)"$`, steps.requestAccess)
	ctx.Step(`^(\d+) authorities approve the request$`, steps.authoritiesApprove)
	ctx.Step(`^authority (\d+) approves the request again$`, steps.authorityApprovesAgain)
	ctx.Step(`^I poll the request status$`, steps.pollStatus)
	ctx.Step(`^I sign the file challenge with my wallet$`, steps.signWithMyWallet)
	ctx.Step(`^I sign the file challenge with another wallet$`, steps.signWithAnotherWallet)
	ctx.Step(`^I release the key$`, steps.releaseKey)

	// Assertions
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response error should be "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the released key should match the file key$`, steps.releasedKeyMatches)
}

type releaseSteps struct {
	tc *TestContext
}

func (s *releaseSteps) fileProtectedBy(_ context.Context, fileID, policy string) error {
	parsed, err := id.ParseFileID(fileID)
	if err != nil {
		return err
	}
	return s.tc.seedFile(parsed, policy)
}

func (s *releaseSteps) signedInAs(_ context.Context, role, dept, clearance string) error {
	return s.tc.signIn(authmw.Principal{
		UserID:     id.UserID(uuid.New()),
		Role:       role,
		Department: dept,
		Clearance:  clearance,
	})
}

func (s *releaseSteps) roleChanges(_ context.Context, role string) error {
	p := s.tc.principal
	p.Role = role
	return s.tc.signIn(p)
}

func (s *releaseSteps) requestAccess(_ context.Context, fileID string) error {
	parsed, err := id.ParseFileID(fileID)
	if err != nil {
		return err
	}
	s.tc.fileID = parsed
	if err := s.tc.POST("/access/requests", map[string]string{"file_id": fileID}); err != nil {
		return err
	}
	if keyID, err := s.tc.ResponseField("key_id"); err == nil {
		s.tc.keyID, _ = keyID.(string)
	}
	return nil
}

func (s *releaseSteps) authoritiesApprove(_ context.Context, n int) error {
	if n > len(config.DefaultAuthorities) {
		return fmt.Errorf("roster has only %d authorities", len(config.DefaultAuthorities))
	}
	return s.simulate(config.DefaultAuthorities[:n])
}

func (s *releaseSteps) authorityApprovesAgain(_ context.Context, n int) error {
	if n < 1 || n > len(config.DefaultAuthorities) {
		return fmt.Errorf("no authority %d in roster", n)
	}
	return s.simulate(config.DefaultAuthorities[n-1 : n])
}

func (s *releaseSteps) simulate(authorities []string) error {
	if s.tc.keyID == "" {
		return fmt.Errorf("no key request in progress")
	}
	if err := s.tc.opsPOST("/access/simulate-approvals", map[string]any{
		"key_id":      s.tc.keyID,
		"authorities": authorities,
	}); err != nil {
		return err
	}
	failures, err := s.tc.ResponseField("failures")
	if err != nil {
		return err
	}
	if failures.(float64) != 0 {
		return fmt.Errorf("approval simulation reported failures: %s", s.tc.lastBody)
	}
	return nil
}

func (s *releaseSteps) pollStatus(context.Context) error {
	return s.tc.GET("/access/requests/" + s.tc.keyID + "/status")
}

func (s *releaseSteps) signWithMyWallet(context.Context) error {
	return s.verify(s.tc.wallet)
}

func (s *releaseSteps) signWithAnotherWallet(context.Context) error {
	other, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return s.verify(other)
}

// verify always claims the caller's own wallet address; signing with another
// key must therefore fail.
func (s *releaseSteps) verify(signer *secp256k1.PrivateKey) error {
	msg := signature.ChallengeMessage(s.tc.fileID)
	if err := s.tc.POST("/access/verify-signature", map[string]string{
		"key_id":    s.tc.keyID,
		"file_id":   s.tc.fileID.String(),
		"message":   msg,
		"signature": signature.SignPersonal(signer, msg),
		"address":   signature.AddressFromPublicKey(s.tc.wallet.PubKey()).String(),
	}); err != nil {
		return err
	}
	if ticket, err := s.tc.ResponseField("ticket"); err == nil {
		s.tc.ticket, _ = ticket.(string)
	}
	return nil
}

func (s *releaseSteps) releaseKey(context.Context) error {
	return s.tc.POST("/access/release", map[string]string{
		"key_id":  s.tc.keyID,
		"file_id": s.tc.fileID.String(),
		"ticket":  s.tc.ticket,
	})
}

func (s *releaseSteps) statusShouldBe(_ context.Context, expected int) error {
	if s.tc.lastStatus != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, s.tc.lastStatus, s.tc.lastBody)
	}
	return nil
}

func (s *releaseSteps) errorShouldBe(ctx context.Context, code string) error {
	return s.fieldShouldBe(ctx, "error", code)
}

func (s *releaseSteps) fieldShouldBe(_ context.Context, field, expected string) error {
	v, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("expected %s=%q, got %q", field, expected, got)
	}
	return nil
}

func (s *releaseSteps) releasedKeyMatches(context.Context) error {
	v, err := s.tc.ResponseField("key")
	if err != nil {
		return err
	}
	encoded, _ := v.(string)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode released key: %w", err)
	}
	if string(key) != string(s.tc.fileKeys[s.tc.fileID]) {
		return fmt.Errorf("released key does not match the key stored for %s", s.tc.fileID)
	}
	return nil
}
