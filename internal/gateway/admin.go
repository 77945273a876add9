package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arcrelay/cagateway/internal/account"
	"github.com/arcrelay/cagateway/internal/quota"
)

// adminAccountView is the credential list shape returned to the admin UI —
// access/refresh tokens are never included.
type adminAccountView struct {
	Index     int    `json:"index"`
	Email     string `json:"email,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Enabled   bool   `json:"enabled"`
	SessionID string `json:"session_id"`
}

// AdminListAccounts is the callable §6 requires to list accounts.
func (g *Gateway) AdminListAccounts(c *gin.Context) {
	snap := g.Store.Snapshot()
	out := make([]adminAccountView, len(snap))
	for i, a := range snap {
		out[i] = adminAccountView{
			Index:     i,
			Email:     a.Email,
			ProjectID: a.ProjectID,
			Enabled:   a.Enabled,
			SessionID: a.SessionID,
		}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// adminAddAccountRequest is the subset of Account fields an admin call may
// set directly; SessionID and CreatedAt are always derived by the store.
type adminAddAccountRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in_seconds"`
	IssuedAtMs   int64  `json:"issued_at_ms"`
	ProjectID    string `json:"project_id"`
	Email        string `json:"email"`
	Enabled      bool   `json:"enabled"`
}

// AdminAddAccount is the callable §6 requires to add an account.
func (g *Gateway) AdminAddAccount(c *gin.Context) {
	var req adminAddAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	acc := &account.Account{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresIn:    req.ExpiresIn,
		IssuedAtMs:   req.IssuedAtMs,
		ProjectID:    req.ProjectID,
		Email:        req.Email,
		Enabled:      true,
	}
	if err := g.Store.Add(acc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AdminDeleteAccount is the callable §6 requires to delete an account.
func (g *Gateway) AdminDeleteAccount(c *gin.Context) {
	index, err := adminIndexParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := g.Store.Delete(index); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AdminSetEnabled is the callable §6 requires to enable/disable an account.
func (g *Gateway) AdminSetEnabled(c *gin.Context) {
	index, err := adminIndexParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	enabled, convErr := strconv.ParseBool(c.Query("enabled"))
	if convErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled must be true or false"})
		return
	}
	if err := g.Store.SetEnable(index, enabled); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AdminRefreshAll is the callable §6 requires to trigger a refresh; it runs
// every enabled account's refresh sequentially and reports each outcome.
func (g *Gateway) AdminRefreshAll(c *gin.Context) {
	if g.Refresh == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh is not configured"})
		return
	}
	results := g.Store.RefreshAll(c.Request.Context(), g.Refresh)
	out := make(map[string]string, len(results))
	for sessionID, r := range results {
		out[sessionID] = r.String()
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

// AdminQuotaView is the callable §6 requires to read the quota view: every
// account's per-group remaining fraction and reset time.
func (g *Gateway) AdminQuotaView(c *gin.Context) {
	snap := g.Store.Snapshot()
	type accountQuota struct {
		SessionID string                 `json:"session_id"`
		Email     string                 `json:"email,omitempty"`
		Groups    []quota.QuotaGroupView `json:"groups"`
	}
	out := make([]accountQuota, len(snap))
	for i, a := range snap {
		out[i] = accountQuota{
			SessionID: a.SessionID,
			Email:     a.Email,
			Groups:    g.Pool.SessionQuotaGroups(a.SessionID),
		}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func adminIndexParam(c *gin.Context) (int, error) {
	return strconv.Atoi(c.Param("index"))
}
