package web

import (
	"bytes"
	"mime"
	"net/http"

	"github.com/hsn0918/fileconv/internal/xmlexport"
)

func (h *Handler) handleXML(w http.ResponseWriter, r *http.Request) {
	h.writeDistribution(w, r, "")
}

func (h *Handler) handleXMLDownload(w http.ResponseWriter, r *http.Request) {
	h.writeDistribution(w, r, xmlexport.DocumentName)
}

func (h *Handler) handleXMLSingle(w http.ResponseWriter, r *http.Request) {
	h.writeAsset(w, r, false)
}

func (h *Handler) handleXMLSingleDownload(w http.ResponseWriter, r *http.Request) {
	h.writeAsset(w, r, true)
}

func (h *Handler) writeDistribution(w http.ResponseWriter, r *http.Request, attachment string) {
	files, err := h.files.List(r.Context())
	if err != nil {
		h.serverError(w, r, "list files", err)
		return
	}

	var buf bytes.Buffer
	if err := xmlexport.WriteDistribution(&buf, files); err != nil {
		h.serverError(w, r, "render xml", err)
		return
	}

	writeXML(w, buf.Bytes(), attachment)
}

func (h *Handler) writeAsset(w http.ResponseWriter, r *http.Request, download bool) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := xmlexport.WriteAsset(&buf, *f); err != nil {
		h.serverError(w, r, "render xml", err)
		return
	}

	attachment := ""
	if download {
		attachment = xmlexport.SingleName(f.ID)
	}
	writeXML(w, buf.Bytes(), attachment)
}

func writeXML(w http.ResponseWriter, body []byte, attachment string) {
	w.Header().Set("Content-Type", xmlexport.ContentType)
	if attachment != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
