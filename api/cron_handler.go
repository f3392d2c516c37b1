package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Cron entries are addressed by name; the scheduler keeps them in memory
// and re-registration happens at process start.

// listCrons handles GET /v1/crons.
func (a *API) listCrons(c *gin.Context) {
	entries := a.eng.Cron().Entries()
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// getCron handles GET /v1/crons/:name.
func (a *API) getCron(c *gin.Context) {
	entry, ok := a.eng.Cron().Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "cron entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// enableCron handles POST /v1/crons/:name/enable.
func (a *API) enableCron(c *gin.Context) {
	a.setCronEnabled(c, true)
}

// disableCron handles POST /v1/crons/:name/disable. A disabled entry
// stays registered but stops firing.
func (a *API) disableCron(c *gin.Context) {
	a.setCronEnabled(c, false)
}

func (a *API) setCronEnabled(c *gin.Context, enabled bool) {
	name := c.Param("name")
	if !a.eng.Cron().SetEnabled(name, enabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cron entry not found"})
		return
	}
	entry, _ := a.eng.Cron().Get(name)
	c.JSON(http.StatusOK, entry)
}

// deleteCron handles DELETE /v1/crons/:name.
func (a *API) deleteCron(c *gin.Context) {
	if !a.eng.Cron().Deregister(c.Param("name")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cron entry not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
