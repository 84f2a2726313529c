package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/mailbox"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/policy"
	"github.com/zulandar/switchboard/internal/safety"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, ctrl safety.Controller) {
	router.GET("/api/ledger", handleLedgerQuery(db))
	router.GET("/api/executions/:id", handleExecutionDetail(db))
	router.GET("/api/policies", handlePolicyList(db))
	router.PATCH("/api/policies/:agent", handlePolicyUpdate(db))
	router.GET("/api/killswitch", handleKillSwitchGet(ctrl))
	router.PUT("/api/killswitch", handleKillSwitchPut(ctrl))
	router.GET("/api/messages", handleMessageList(db))
}

func handleLedgerQuery(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := ledger.QueryFilters{
			AgentID: c.Query("agent"),
			Kind:    c.Query("kind"),
			Verdict: c.Query("verdict"),
			Limit:   100,
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			filters.Limit = n
		}
		if v := c.Query("since"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp (want RFC3339)"})
				return
			}
			filters.Since = ts
		}
		if v := c.Query("until"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until timestamp (want RFC3339)"})
				return
			}
			filters.Until = ts
		}

		entries, err := ledger.Query(db, filters)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

func handleExecutionDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var rec models.ExecutionRecord
		if err := db.First(&rec, "id = ?", id).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		var logs []models.WorkerLog
		if err := db.Where("execution_id = ?", id).Order("id ASC").Find(&logs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"execution": rec, "logs": logs})
	}
}

func handlePolicyList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		policies, err := policy.All(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"policies": policies})
	}
}

// policyPatch is the PATCH body for policy updates. Nil fields are left
// unchanged.
type policyPatch struct {
	Mode            *string `json:"mode"`
	Enabled         *bool   `json:"enabled"`
	Muted           *bool   `json:"muted"`
	CooldownSeconds *int    `json:"cooldown_seconds"`
	MaxPerWindow    *int    `json:"max_per_window"`
	WindowSeconds   *int    `json:"window_seconds"`
	TimeoutSeconds  *int    `json:"timeout_seconds"`
	MaxRetries      *int    `json:"max_retries"`
	Priority        *int    `json:"priority"`
}

func handlePolicyUpdate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent")
		var patch policyPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}

		if patch.Mode != nil {
			if err := policy.SetMode(db, agentID, *patch.Mode); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if patch.Enabled != nil {
			if err := policy.SetEnabled(db, agentID, *patch.Enabled); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if patch.Muted != nil {
			if err := policy.SetMuted(db, agentID, *patch.Muted); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		err := policy.Update(db, agentID, policy.UpdateOpts{
			CooldownSeconds: patch.CooldownSeconds,
			MaxPerWindow:    patch.MaxPerWindow,
			WindowSeconds:   patch.WindowSeconds,
			TimeoutSeconds:  patch.TimeoutSeconds,
			MaxRetries:      patch.MaxRetries,
			Priority:        patch.Priority,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		pol, err := policy.Get(db, agentID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"policy": pol})
	}
}

func handleKillSwitchGet(ctrl safety.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"engaged": ctrl.Engaged()})
	}
}

func handleKillSwitchPut(ctrl safety.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Engaged *bool `json:"engaged" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must set engaged"})
			return
		}
		var err error
		if *body.Engaged {
			err = ctrl.Engage()
		} else {
			err = ctrl.Disengage()
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"engaged": ctrl.Engaged()})
	}
}

func handleMessageList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent := c.Query("agent")
		if agent == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "agent query parameter is required"})
			return
		}
		includeArchived := c.Query("archived") == "true"
		msgs, err := mailbox.List(db, agent, includeArchived)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}
