package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/internal/dns"
)

type DNSHandler struct {
	reconciler *dns.Reconciler
}

func NewDNSHandler(reconciler *dns.Reconciler) *DNSHandler {
	return &DNSHandler{reconciler: reconciler}
}

// Diff reports what the next reconcile would change, without mutating
func (h *DNSHandler) Diff(c *gin.Context) {
	diff, err := h.reconciler.CurrentDiff(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, diff)
}

// Update runs a full reconcile now
func (h *DNSHandler) Update(c *gin.Context) {
	if err := h.reconciler.Update(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"reconciled": true})
}
