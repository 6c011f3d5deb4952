package chat

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	midsec "CProject/middleware/security"
	"CProject/module/notify"
	"CProject/service/mgo"
	storage "CProject/service/storage/redis"
)

type sendNotificationReq struct {
	RecipientID string            `json:"recipient_id" binding:"required"`
	EventKey    string            `json:"event_key" binding:"required"`
	Data        map[string]string `json:"data"`
}

type batchNotificationReq struct {
	RecipientIDs []string          `json:"recipient_ids" binding:"required"`
	EventKey     string            `json:"event_key" binding:"required"`
	Data         map[string]string `json:"data"`
}

// Routes mounts the websocket endpoint, the notification fallback API and the
// health probe.
func (s *Server) Routes(r *gin.Engine, dispatcher *notify.Dispatcher) {
	r.GET("/ws", s.HandleWS)
	r.GET("/healthz", healthz)

	api := r.Group("/api", midsec.Middleware(midsec.Options{Secret: []byte(s.cfg.JWT.Secret)}))
	api.POST("/notifications/send", func(c *gin.Context) {
		var req sendNotificationReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := dispatcher.Dispatch(c.Request.Context(), req.RecipientID, req.EventKey, req.Data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": out})
	})
	api.POST("/notifications/batch", func(c *gin.Context) {
		var req batchNotificationReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		results := make(map[string]string, len(req.RecipientIDs))
		for _, rid := range req.RecipientIDs {
			out, err := dispatcher.Dispatch(c.Request.Context(), rid, req.EventKey, req.Data)
			if err != nil {
				results[rid] = "error: " + err.Error()
				continue
			}
			results[rid] = string(out)
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	})
}

func healthz(c *gin.Context) {
	ctx := c.Request.Context()
	deps := gin.H{}
	healthy := true
	start := time.Now()
	if err := storage.Ping(ctx); err != nil {
		deps["redis"] = err.Error()
		healthy = false
	} else {
		deps["redis"] = "ok"
	}
	if err := mgo.Ping(ctx); err != nil {
		deps["mongo"] = err.Error()
		healthy = false
	} else {
		deps["mongo"] = "ok"
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"deps": deps, "latency_ms": time.Since(start).Milliseconds()})
}
