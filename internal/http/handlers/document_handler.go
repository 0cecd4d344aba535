// Document HTTP handlers: upload, listing, deletion, extracted text, and
// the stored PDF as attachment or inline preview.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pdf-chat-backend/internal/services"
)

// DocumentInfo is one row of the document listing.
type DocumentInfo struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	UploadDate time.Time `json:"upload_date"`
	PageCount  int       `json:"page_count"`
	TextLength int       `json:"text_length"`
	ChunkCount int       `json:"chunk_count"`
	Status     string    `json:"status" example:"processed"`
}

// TextResponse carries a document's extracted text.
type TextResponse struct {
	Text string `json:"text"`
}

// Upload godoc
// @ID          uploadDocument
// @Summary     Upload a PDF
// @Description Extracts, chunks, and indexes the PDF, then stores the original. Only .pdf files are accepted.
// @Tags        Documents
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
//
// @Param       file  formData  file  true  "PDF file"
//
// @Success     200  {object}  services.UploadResult
// @Failure     400  {object}  handlers.ErrorResponse  "Not a PDF, empty, or no extractable text"
// @Failure     413  {object}  handlers.ErrorResponse  "File exceeds the upload limit"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /upload [post]
func (h *Handlers) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		failErr(c, services.ErrFileTooLarge)
		return
	}
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read uploaded file")
		return
	}
	defer f.Close()

	res, err := h.docs.Upload(c.Request.Context(), userID(c), filepath.Base(fh.Filename), f)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListDocuments godoc
// @ID          listDocuments
// @Summary     List documents
// @Description The current user's documents, newest first.
// @Tags        Documents
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   handlers.DocumentInfo
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /documents [get]
func (h *Handlers) ListDocuments(c *gin.Context) {
	docs, err := h.docs.List(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	out := make([]DocumentInfo, len(docs))
	for i, d := range docs {
		out[i] = DocumentInfo{
			DocumentID: d.ID,
			Filename:   d.Filename,
			UploadDate: d.CreatedAt,
			PageCount:  d.PageCount,
			TextLength: d.TextLength,
			ChunkCount: d.ChunkCount,
			Status:     d.Status,
		}
	}
	ok(c, http.StatusOK, out)
}

// DeleteDocument godoc
// @ID          deleteDocument
// @Summary     Delete a document
// @Description Removes the index entries, the stored file, and every chat session about the document.
// @Tags        Documents
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Document ID"  format(uuid)
// @Success     200  {object}  handlers.MessageResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /documents/{id} [delete]
func (h *Handlers) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := h.docs.Delete(c.Request.Context(), userID(c), id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Document %s deleted successfully", id)})
}

// DocumentText godoc
// @ID          documentText
// @Summary     Extracted text of a document
// @Tags        Documents
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Document ID"  format(uuid)
// @Success     200  {object}  handlers.TextResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /documents/{id}/text [get]
func (h *Handlers) DocumentText(c *gin.Context) {
	text, err := h.docs.Text(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, TextResponse{Text: text})
}

// Download godoc
// @ID          downloadDocument
// @Summary     Download the original PDF
// @Tags        Documents
// @Produce     application/pdf
// @Security    BearerAuth
// @Param       id  path  string  true  "Document ID"  format(uuid)
// @Success     200  {file}    file
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Router      /documents/{id}/download [get]
func (h *Handlers) Download(c *gin.Context) { h.servePDF(c, "attachment") }

// Preview godoc
// @ID          previewDocument
// @Summary     Show the PDF inline
// @Tags        Documents
// @Produce     application/pdf
// @Security    BearerAuth
// @Param       id  path  string  true  "Document ID"  format(uuid)
// @Success     200  {file}    file
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Router      /documents/{id}/preview [get]
func (h *Handlers) Preview(c *gin.Context) { h.servePDF(c, "inline") }

func (h *Handlers) servePDF(c *gin.Context, disposition string) {
	doc, rc, err := h.docs.Open(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, doc.Filename))
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}
