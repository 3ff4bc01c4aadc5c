package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	return cmd, &buf
}

func TestCheckProviders_Valid(t *testing.T) {
	cmd, out := testCmd()
	env := []string{
		"AUTH_GOOGLE_TYPE=google",
		"AUTH_GOOGLE_CLIENT_ID=gid",
		"AUTH_GOOGLE_CLIENT_SECRET=gsecret",
		"AUTH_CAMPUS_TYPE=oidc",
		"AUTH_CAMPUS_ISSUER=https://idp.campus.edu",
		"AUTH_CAMPUS_CLIENT_ID=cid",
		"AUTH_CAMPUS_CLIENT_SECRET=csecret",
		"AUTH_CAMPUS_INDEX=1",
	}

	err := checkProviders(cmd, env, &cli{log: zap.NewNop()}, false, "")
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "local sign-in: true")
	assert.Contains(t, text, "/auth/google/callback")
	assert.NotContains(t, text, "gsecret")
	assert.Less(t, strings.Index(text, "campus"), strings.Index(text, "google"), "providers print in index order")
}

func TestCheckProviders_ListsEveryProblem(t *testing.T) {
	cmd, out := testCmd()
	env := []string{
		"AUTH_GOOGLE_TYPE=google",
		"AUTH_ACME_TYPE=kerberos",
	}

	err := checkProviders(cmd, env, &cli{log: zap.NewNop()}, false, "")
	require.Error(t, err)

	lines := strings.Count(out.String(), "error: ")
	assert.GreaterOrEqual(t, lines, 2)
	assert.Contains(t, out.String(), "google.clientID")
	assert.Contains(t, out.String(), "acme")
}

func TestWriteInvites(t *testing.T) {
	cmd, out := testCmd()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(72 * time.Hour)

	writeInvites(cmd, []models.Invite{
		{ID: "OPEN", ResourceID: "P1", Role: "user", Remaining: 0},
		{ID: "LATE", ResourceID: "P1", Role: "user", Remaining: 3, ExpiresAt: &past},
		{ID: "SOON", ResourceID: "P2", Role: "admin", Remaining: 1, ExpiresAt: &future, CreatedBy: "cli:ops"},
	}, now)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "unlimited")
	assert.Contains(t, lines[1], "never")
	assert.Contains(t, lines[2], "(expired)")
	assert.Contains(t, lines[3], "cli:ops")
	assert.NotContains(t, lines[3], "(expired)")
}

func TestRootCmd_Wiring(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"invites", "create"},
		{"invites", "list"},
		{"invites", "revoke"},
		{"keys", "rotate"},
		{"keys", "list"},
		{"providers", "check"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
