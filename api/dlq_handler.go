package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/triagehq/triage/dlq"
	"github.com/triagehq/triage/id"
)

// listDLQ handles GET /v1/dlq?limit=&offset=.
func (a *API) listDLQ(c *gin.Context) {
	ctx := c.Request.Context()
	store := a.eng.DLQ().Store()

	entries, err := store.ListDLQ(ctx, dlq.ListOpts{
		Limit:  queryInt(c, "limit", 100),
		Offset: queryInt(c, "offset", 0),
	})
	if err != nil {
		a.respondError(c, err)
		return
	}
	total, err := store.CountDLQ(ctx)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

// getDLQ handles GET /v1/dlq/:entryID.
func (a *API) getDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("entryID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dlq entry id"})
		return
	}

	entry, err := a.eng.DLQ().Store().GetDLQ(c.Request.Context(), entryID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// replayDLQ handles POST /v1/dlq/:entryID/replay. The entry is
// re-submitted as a fresh job with a full attempt budget.
func (a *API) replayDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("entryID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dlq entry id"})
		return
	}

	rec, err := a.eng.DLQ().Replay(c.Request.Context(), entryID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newJobResponse(rec))
}

// purgeDLQ handles DELETE /v1/dlq?before=<RFC3339>. Entries whose
// failure predates the cutoff are removed; the cutoff defaults to now,
// which clears the whole archive.
func (a *API) purgeDLQ(c *gin.Context) {
	before := time.Now().UTC()
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before timestamp, want RFC 3339"})
			return
		}
		before = parsed
	}

	purged, err := a.eng.DLQ().Store().PurgeDLQ(c.Request.Context(), before)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}
