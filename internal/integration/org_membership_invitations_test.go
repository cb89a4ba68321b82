package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/ebaird/cairn/internal/app"
	"github.com/ebaird/cairn/internal/auth"
	"github.com/ebaird/cairn/internal/config"
	"github.com/ebaird/cairn/internal/orgs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

type envelopeResponse struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                 "dev",
		HTTPAddr:            ":0",
		BaseURL:             "http://localhost",
		DBDSN:               "unused",
		JWTSecret:           "test-secret",
		LogLevel:            "error",
		LoginRateRPM:        120,
		SessionDays:         7,
		InviteRetentionDays: 30,
	}
}

func TestE2E_OrgInvitations_Members_LastAdminGuardrails_Audit(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := httptest.NewServer(app.NewRouter(pool, testConfig()))
	t.Cleanup(srv.Close)

	founderClient, founderCSRF := newCSRFClient(t, srv.URL)
	editorClient, editorCSRF := newCSRFClient(t, srv.URL)
	strangerClient, strangerCSRF := newCSRFClient(t, srv.URL)

	founderEmail := "founder@example.com"
	editorEmail := "editor@example.com"
	strangerEmail := "stranger@example.com"
	password := "password123"

	founderUserID := signupAndLogin(t, founderClient, srv.URL, founderCSRF, founderEmail, password)
	editorUserID := signupAndLogin(t, editorClient, srv.URL, editorCSRF, editorEmail, password)
	signupAndLogin(t, strangerClient, srv.URL, strangerCSRF, strangerEmail, password)

	orgID := createOrg(t, founderClient, srv.URL, founderCSRF, "Acme Planning", "Roadmaps for Acme")

	// The creator is the sole member and holds ADMIN.
	members := listMembers(t, founderClient, srv.URL, orgID)
	require.Len(t, members, 1)
	require.Equal(t, founderUserID, members[0].UserID)
	require.Equal(t, orgs.RoleAdmin, members[0].Role)

	// Non-members cannot see the org or its members.
	{
		errEnv := getExpectError(t, editorClient, srv.URL+"/api/v1/orgs/"+orgID.String()+"/members", http.StatusNotFound)
		require.Equal(t, "not_found", errEnv.Error.Code)
	}

	// Non-members cannot invite either.
	{
		errEnv := doJSONExpectError(t, editorClient, http.MethodPost, srv.URL+"/api/v1/orgs/"+orgID.String()+"/invitations", editorCSRF, http.StatusForbidden, map[string]any{
			"email": strangerEmail,
			"role":  string(orgs.RoleViewer),
		})
		require.Equal(t, "forbidden", errEnv.Error.Code)
	}

	invitationID := createInvitation(t, founderClient, srv.URL, founderCSRF, orgID, editorEmail, orgs.RoleEditor)

	// Accepting someone else's invitation is refused and leaves it pending.
	{
		errEnv := doJSONExpectError(t, strangerClient, http.MethodPost, srv.URL+"/api/v1/invitations/"+invitationID.String()+"/accept", strangerCSRF, http.StatusForbidden, nil)
		require.Equal(t, "forbidden", errEnv.Error.Code)
	}
	{
		pending := listOrgInvitations(t, founderClient, srv.URL, orgID)
		require.Len(t, pending, 1)
		require.Equal(t, orgs.InvitationPending, pending[0].Status)
	}

	// The invitee sees the invitation addressed to their email.
	{
		mine := listMyInvitations(t, editorClient, srv.URL)
		require.Len(t, mine, 1)
		require.Equal(t, invitationID, mine[0].ID)
	}

	acceptInvitation(t, editorClient, srv.URL, editorCSRF, invitationID, orgID, orgs.RoleEditor)

	// A settled invitation cannot be accepted again.
	{
		errEnv := doJSONExpectError(t, editorClient, http.MethodPost, srv.URL+"/api/v1/invitations/"+invitationID.String()+"/accept", editorCSRF, http.StatusNotFound, nil)
		require.Equal(t, "not_found", errEnv.Error.Code)
	}

	members = listMembers(t, founderClient, srv.URL, orgID)
	require.Len(t, members, 2)

	var founderMembershipID, editorMembershipID uuid.UUID
	for _, m := range members {
		switch m.UserID {
		case founderUserID:
			founderMembershipID = m.MembershipID
		case editorUserID:
			editorMembershipID = m.MembershipID
		}
	}
	require.NotEqual(t, uuid.Nil, founderMembershipID)
	require.NotEqual(t, uuid.Nil, editorMembershipID)

	// Editors cannot invite or change roles.
	{
		errEnv := doJSONExpectError(t, editorClient, http.MethodPost, srv.URL+"/api/v1/orgs/"+orgID.String()+"/invitations", editorCSRF, http.StatusForbidden, map[string]any{
			"email": strangerEmail,
			"role":  string(orgs.RoleViewer),
		})
		require.Equal(t, "forbidden", errEnv.Error.Code)
	}
	{
		errEnv := doJSONExpectError(t, editorClient, http.MethodPut, srv.URL+"/api/v1/orgs/"+orgID.String()+"/members/"+founderMembershipID.String(), editorCSRF, http.StatusForbidden, map[string]any{
			"role": string(orgs.RoleViewer),
		})
		require.Equal(t, "forbidden", errEnv.Error.Code)
	}

	updateMemberRole(t, founderClient, srv.URL, founderCSRF, orgID, editorMembershipID, orgs.RoleAdmin)
	removeMember(t, founderClient, srv.URL, founderCSRF, orgID, editorMembershipID)

	// The sole remaining admin can neither demote nor remove themselves.
	{
		errEnv := doJSONExpectError(t, founderClient, http.MethodPut, srv.URL+"/api/v1/orgs/"+orgID.String()+"/members/"+founderMembershipID.String(), founderCSRF, http.StatusConflict, map[string]any{
			"role": string(orgs.RoleEditor),
		})
		require.Equal(t, "last_admin", errEnv.Error.Code)
	}
	{
		errEnv := doJSONExpectError(t, founderClient, http.MethodDelete, srv.URL+"/api/v1/orgs/"+orgID.String()+"/members/"+founderMembershipID.String(), founderCSRF, http.StatusConflict, nil)
		require.Equal(t, "last_admin", errEnv.Error.Code)
	}

	// Decline flow for a second invitation.
	declineID := createInvitation(t, founderClient, srv.URL, founderCSRF, orgID, strangerEmail, orgs.RoleViewer)
	doJSONExpectSuccess(t, strangerClient, http.MethodPost, srv.URL+"/api/v1/invitations/"+declineID.String()+"/decline", strangerCSRF, http.StatusOK, nil)
	{
		errEnv := doJSONExpectError(t, strangerClient, http.MethodPost, srv.URL+"/api/v1/invitations/"+declineID.String()+"/decline", strangerCSRF, http.StatusNotFound, nil)
		require.Equal(t, "not_found", errEnv.Error.Code)
	}

	// Declining never grants membership.
	members = listMembers(t, founderClient, srv.URL, orgID)
	require.Len(t, members, 1)

	events := listAudit(t, founderClient, srv.URL, orgID, 50)
	actions := make(map[string]bool)
	for _, ev := range events {
		actions[ev.Action] = true
	}
	require.True(t, actions["org.created"], "missing org.created audit event")
	require.True(t, actions["org.invitation_created"], "missing org.invitation_created audit event")
	require.True(t, actions["org.invitation_accepted"], "missing org.invitation_accepted audit event")
	require.True(t, actions["org.invitation_declined"], "missing org.invitation_declined audit event")
	require.True(t, actions["org.member_role_updated"], "missing org.member_role_updated audit event")
	require.True(t, actions["org.member_removed"], "missing org.member_removed audit event")
}

func TestE2E_ProjectAccessByRole(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	srv := httptest.NewServer(app.NewRouter(pool, testConfig()))
	t.Cleanup(srv.Close)

	adminClient, adminCSRF := newCSRFClient(t, srv.URL)
	viewerClient, viewerCSRF := newCSRFClient(t, srv.URL)

	signupAndLogin(t, adminClient, srv.URL, adminCSRF, "pm@example.com", "password123")
	signupAndLogin(t, viewerClient, srv.URL, viewerCSRF, "exec@example.com", "password123")

	orgID := createOrg(t, adminClient, srv.URL, adminCSRF, "Product Org", "")

	invID := createInvitation(t, adminClient, srv.URL, adminCSRF, orgID, "exec@example.com", orgs.RoleViewer)
	acceptInvitation(t, viewerClient, srv.URL, viewerCSRF, invID, orgID, orgs.RoleViewer)

	// Viewers read but do not write.
	doJSONExpectSuccess(t, adminClient, http.MethodPost, srv.URL+"/api/v1/orgs/"+orgID.String()+"/projects", adminCSRF, http.StatusCreated, map[string]any{
		"name": "Q3 Roadmap",
	})
	{
		errEnv := doJSONExpectError(t, viewerClient, http.MethodPost, srv.URL+"/api/v1/orgs/"+orgID.String()+"/projects", viewerCSRF, http.StatusForbidden, map[string]any{
			"name": "Shadow Roadmap",
		})
		require.Equal(t, "forbidden", errEnv.Error.Code)
	}

	resp, err := viewerClient.Get(srv.URL + "/api/v1/orgs/" + orgID.String() + "/projects")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func newCSRFClient(t *testing.T, serverURL string) (*http.Client, string) {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	baseURL, err := url.Parse(serverURL)
	require.NoError(t, err)

	csrfToken, err := auth.GenerateCSRFToken()
	require.NoError(t, err)
	jar.SetCookies(baseURL, []*http.Cookie{{
		Name:  auth.CSRFCookieName,
		Value: csrfToken,
		Path:  "/",
	}})

	return client, csrfToken
}

func signupAndLogin(t *testing.T, client *http.Client, baseURL, csrfToken, email, password string) uuid.UUID {
	t.Helper()

	signupResp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/auth/signup", csrfToken, http.StatusCreated, map[string]any{
		"email":    email,
		"password": password,
	})

	var session struct {
		UserID uuid.UUID `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(signupResp.Data, &session))
	require.NotEqual(t, uuid.Nil, session.UserID)

	doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", csrfToken, http.StatusOK, map[string]any{
		"email":    email,
		"password": password,
	})

	return session.UserID
}

func createOrg(t *testing.T, client *http.Client, baseURL, csrfToken, name, description string) uuid.UUID {
	t.Helper()

	orgResp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/orgs", csrfToken, http.StatusCreated, map[string]any{
		"name":        name,
		"description": description,
	})

	var parsed struct {
		Org struct {
			ID uuid.UUID `json:"id"`
		} `json:"org"`
	}
	require.NoError(t, json.Unmarshal(orgResp.Data, &parsed))
	require.NotEqual(t, uuid.Nil, parsed.Org.ID)

	return parsed.Org.ID
}

func createInvitation(t *testing.T, client *http.Client, baseURL, csrfToken string, orgID uuid.UUID, email string, role orgs.Role) uuid.UUID {
	t.Helper()

	resp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/orgs/"+orgID.String()+"/invitations", csrfToken, http.StatusCreated, map[string]any{
		"email": email,
		"role":  string(role),
	})

	var parsed struct {
		Invitation struct {
			ID     uuid.UUID             `json:"id"`
			Status orgs.InvitationStatus `json:"status"`
		} `json:"invitation"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &parsed))
	require.NotEqual(t, uuid.Nil, parsed.Invitation.ID)
	require.Equal(t, orgs.InvitationPending, parsed.Invitation.Status)

	return parsed.Invitation.ID
}

func acceptInvitation(t *testing.T, client *http.Client, baseURL, csrfToken string, invitationID, wantOrgID uuid.UUID, wantRole orgs.Role) {
	t.Helper()

	resp := doJSONExpectSuccess(t, client, http.MethodPost, baseURL+"/api/v1/invitations/"+invitationID.String()+"/accept", csrfToken, http.StatusOK, nil)

	var parsed struct {
		OrgID uuid.UUID `json:"org_id"`
		Role  orgs.Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &parsed))
	require.Equal(t, wantOrgID, parsed.OrgID)
	require.Equal(t, wantRole, parsed.Role)
}

func listMembers(t *testing.T, client *http.Client, baseURL string, orgID uuid.UUID) []orgs.MemberInfo {
	t.Helper()

	resp, err := client.Get(baseURL + "/api/v1/orgs/" + orgID.String() + "/members")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", string(body))

	var env struct {
		RequestID string `json:"request_id"`
		Data      struct {
			Members []orgs.MemberInfo `json:"members"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	require.NotEmpty(t, env.RequestID)

	return env.Data.Members
}

func listOrgInvitations(t *testing.T, client *http.Client, baseURL string, orgID uuid.UUID) []orgs.InvitationListItem {
	t.Helper()
	return fetchInvitations(t, client, baseURL+"/api/v1/orgs/"+orgID.String()+"/invitations")
}

func listMyInvitations(t *testing.T, client *http.Client, baseURL string) []orgs.InvitationListItem {
	t.Helper()
	return fetchInvitations(t, client, baseURL+"/api/v1/invitations")
}

func fetchInvitations(t *testing.T, client *http.Client, urlStr string) []orgs.InvitationListItem {
	t.Helper()

	resp, err := client.Get(urlStr)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", string(body))

	var env struct {
		Data struct {
			Invitations []orgs.InvitationListItem `json:"invitations"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))

	return env.Data.Invitations
}

func updateMemberRole(t *testing.T, client *http.Client, baseURL, csrfToken string, orgID, membershipID uuid.UUID, role orgs.Role) {
	t.Helper()

	doJSONExpectSuccess(t, client, http.MethodPut, baseURL+"/api/v1/orgs/"+orgID.String()+"/members/"+membershipID.String(), csrfToken, http.StatusOK, map[string]any{
		"role": string(role),
	})
}

func removeMember(t *testing.T, client *http.Client, baseURL, csrfToken string, orgID, membershipID uuid.UUID) {
	t.Helper()

	doJSONExpectSuccess(t, client, http.MethodDelete, baseURL+"/api/v1/orgs/"+orgID.String()+"/members/"+membershipID.String(), csrfToken, http.StatusOK, nil)
}

func listAudit(t *testing.T, client *http.Client, baseURL string, orgID uuid.UUID, limit int) []struct {
	Action string `json:"action"`
} {
	t.Helper()

	u := baseURL + "/api/v1/orgs/" + orgID.String() + "/audit?limit=" + strconv.Itoa(limit)
	resp, err := client.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", string(body))

	var env struct {
		RequestID string `json:"request_id"`
		Data      struct {
			Events []struct {
				Action string `json:"action"`
			} `json:"events"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	require.NotEmpty(t, env.RequestID)

	return env.Data.Events
}

func getExpectError(t *testing.T, client *http.Client, urlStr string, wantStatus int) errorEnvelope {
	t.Helper()

	resp, err := client.Get(urlStr)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "body: %s", string(body))

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	require.NotEmpty(t, env.Error.RequestID)

	return env
}

func doJSONExpectSuccess(t *testing.T, client *http.Client, method, urlStr, csrfToken string, wantStatus int, payload any) envelopeResponse {
	t.Helper()

	respBody := doJSONExpectStatus(t, client, method, urlStr, csrfToken, wantStatus, payload)

	var env envelopeResponse
	require.NoError(t, json.Unmarshal(respBody, &env))
	require.NotEmpty(t, env.RequestID)

	return env
}

func doJSONExpectError(t *testing.T, client *http.Client, method, urlStr, csrfToken string, wantStatus int, payload any) errorEnvelope {
	t.Helper()

	respBody := doJSONExpectStatus(t, client, method, urlStr, csrfToken, wantStatus, payload)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(respBody, &env))
	require.NotEmpty(t, env.Error.RequestID)

	return env
}

func doJSONExpectStatus(t *testing.T, client *http.Client, method, urlStr, csrfToken string, wantStatus int, payload any) []byte {
	t.Helper()

	var bodyReader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, urlStr, bodyReader)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete {
		req.Header.Set(auth.CSRFHeaderName, csrfToken)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "body: %s", string(body))

	return body
}
