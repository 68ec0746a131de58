package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"

	"invoicer/internal/auth"
	"invoicer/internal/core"
	"invoicer/internal/invoice"
	"invoicer/internal/invoice/render"
	applog "invoicer/internal/log"
	"invoicer/internal/services"
)

const maxInvoiceRequestBytes = 1 << 20

type createInvoiceRequest struct {
	Month     string         `json:"month"`
	Matchings []invoice.Item `json:"matchings"`
	Total     core.Yen       `json:"total"`
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFrom(ctx)

	if !isJSON(r.Header.Get("Content-Type")) {
		writeJSONError(w, http.StatusUnsupportedMediaType, codeInvalidRequest, "request body must be application/json")
		return
	}
	var req createInvoiceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInvoiceRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body: "+decodeErrorMessage(err))
		return
	}
	month, err := core.ParseMonthKey(req.Month)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: "could not generate invoice: month must be YYYY-MM",
			Code:  codeCouldNotGenerate,
			Field: "month",
		})
		return
	}

	f, cleanup, err := s.createStagingFile(ctx)
	if err != nil {
		s.writeServiceError(w, r, applog.OpRender, err)
		return
	}
	defer cleanup()

	// The payment is only recorded once the document is staged.
	issued, err := s.invoices.Issue(ctx, services.IssueRequest{
		UserID: user.ID,
		Month:  month,
		Lines:  req.Matchings,
		Total:  req.Total,
	}, s.renderInto(f))
	if err != nil {
		s.writeServiceError(w, r, applog.OpIssue, err)
		return
	}
	payment := issued.Payment
	if issued.Existing {
		applog.FromContext(ctx).InfoContext(ctx, "Invoice request repeated an earlier payment",
			applog.FieldPaymentID, payment.ID, applog.FieldInvoiceNumber, payment.InvoiceNumber)
	} else {
		s.events.LogInvoiceIssued(ctx, payment.ID, payment.InvoiceNumber, payment.Month.String(), int64(payment.Total), len(payment.MatchingIDs))
	}

	w.Header().Set("X-Payment-ID", payment.ID)
	s.sendStaged(w, r, issued.Invoice, f)
}

func (s *Server) handleDownloadInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFrom(ctx)
	inv, err := s.invoices.Reissue(ctx, user.ID, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, applog.OpReissue, err)
		return
	}

	f, cleanup, err := s.createStagingFile(ctx)
	if err != nil {
		s.writeServiceError(w, r, applog.OpRender, err)
		return
	}
	defer cleanup()
	if err := s.renderInto(f)(ctx, inv); err != nil {
		s.writeServiceError(w, r, applog.OpRender, err)
		return
	}
	s.sendStaged(w, r, inv, f)
}

// createStagingFile returns a temp file and a cleanup that closes and removes
// it.
func (s *Server) createStagingFile(ctx context.Context) (*os.File, func(), error) {
	f, err := os.CreateTemp(s.tempDir, "invoice-*.pdf")
	if err != nil {
		return nil, nil, fmt.Errorf("create staging file: %w", err)
	}
	cleanup := func() {
		f.Close()
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			applog.FromContext(ctx).WarnContext(ctx, "Failed to remove staging file", "path", f.Name(), applog.FieldError, err)
		}
	}
	return f, cleanup, nil
}

func (s *Server) renderInto(f *os.File) services.StageFunc {
	return func(ctx context.Context, inv core.Invoice) error {
		if err := s.renderer.Render(ctx, inv, f); err != nil {
			return fmt.Errorf("render invoice %s: %w", inv.Number, err)
		}
		return nil
	}
}

// sendStaged streams a fully rendered staging file, so a failed render never
// produces a truncated document.
func (s *Server) sendStaged(w http.ResponseWriter, r *http.Request, inv core.Invoice, f *os.File) {
	ctx := r.Context()
	size, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		s.writeServiceError(w, r, applog.OpRender, fmt.Errorf("rewind staging file: %w", err))
		return
	}

	w.Header().Set("Content-Type", render.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, render.Filename(inv)))
	w.Header().Set("Content-Length", fmt.Sprint(size))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		applog.FromContext(ctx).WarnContext(ctx, "Invoice stream interrupted", applog.FieldInvoiceNumber, inv.Number, applog.FieldError, err)
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func decodeErrorMessage(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "request body too large"
	}
	return err.Error()
}
