package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/service"
)

// Multipart field names accepted for uploaded documents.
var fileFields = []string{"files[]", "files"}

func (s *Server) handleSubmit(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return s.HandleError(c, &service.ValidationError{Problems: []string{"multipart form expected: " + err.Error()}}, "invalid upload")
	}
	var headers []*multipart.FileHeader
	for _, field := range fileFields {
		headers = append(headers, form.File[field]...)
	}
	if len(headers) > s.opts.MaxFiles {
		return s.HandleError(c, &service.ValidationError{Problems: []string{
			fmt.Sprintf("%d files exceed the limit of %d per batch", len(headers), s.opts.MaxFiles),
		}}, "invalid upload")
	}

	docs := make([]service.Document, 0, len(headers))
	for _, fh := range headers {
		doc, err := s.readUpload(fh)
		if err != nil {
			return s.HandleError(c, err, "invalid upload")
		}
		docs = append(docs, doc)
	}

	res, err := s.svc.Submit(c.Request().Context(), service.SubmitRequest{
		TenantID:  tenantID(c),
		UserID:    userID(c),
		Documents: docs,
	})
	if err != nil {
		return s.HandleError(c, err, "submission rejected")
	}
	code := http.StatusCreated
	if res.IsAsync {
		code = http.StatusAccepted
	}
	return c.JSON(code, res)
}

// readUpload reads one part, refusing to buffer more than the size limit.
func (s *Server) readUpload(fh *multipart.FileHeader) (service.Document, error) {
	if fh.Size > s.opts.MaxFileBytes {
		return service.Document{}, &service.ValidationError{Problems: []string{
			fmt.Sprintf("%s: %d bytes exceed the limit of %d", fh.Filename, fh.Size, s.opts.MaxFileBytes),
		}}
	}
	f, err := fh.Open()
	if err != nil {
		return service.Document{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, s.opts.MaxFileBytes+1))
	if err != nil {
		return service.Document{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = http.DetectContentType(content)
	}
	return service.Document{Filename: fh.Filename, ContentType: contentType, Content: content}, nil
}

func (s *Server) handleListBatches(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	batches, err := s.svc.ListBatches(c.Request().Context(), tenantID(c), limit)
	if err != nil {
		return s.HandleError(c, err, "failed to list imports")
	}
	return c.JSON(http.StatusOK, batches)
}

func (s *Server) handleGetBatch(c echo.Context) error {
	detail, err := s.svc.GetBatch(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return s.HandleError(c, err, "failed to load import")
	}
	return c.JSON(http.StatusOK, detail)
}

// ItemPatch is the body of an item edit.
type ItemPatch struct {
	EditedData         models.ExtractedData `json:"edited_data,omitempty"`
	SelectedBuildingID *string              `json:"selected_building_id,omitempty"`
	CreateNew          bool                 `json:"create_new,omitempty"`
}

func (s *Server) handleUpdateItem(c echo.Context) error {
	var patch ItemPatch
	if err := c.Bind(&patch); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item, err := s.svc.UpdateItem(c.Request().Context(), tenantID(c), c.Param("id"), c.Param("itemId"), service.ItemUpdate{
		EditedData:         patch.EditedData,
		SelectedBuildingID: patch.SelectedBuildingID,
		CreateNew:          patch.CreateNew,
	})
	if err != nil {
		return s.HandleError(c, err, "failed to update item")
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) handleRegister(c echo.Context) error {
	res, err := s.svc.Register(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return s.HandleError(c, err, "registration failed")
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Jobs(tenantID(c)))
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Stats.Snapshot())
}
