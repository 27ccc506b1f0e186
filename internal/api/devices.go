package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/labdash/internal/audit"
	"github.com/nerrad567/labdash/internal/device"
)

// PageMeta is the pagination block of list responses.
type PageMeta struct {
	Page      int   `json:"page"`
	Size      int   `json:"size"`
	Total     int64 `json:"total"`
	TotalPage int   `json:"totalPage"`
}

// PageResponse is the body of paginated list endpoints.
type PageResponse[T any] struct {
	Data     []T      `json:"data"`
	MetaData PageMeta `json:"metaData"`
}

func newPageResponse[T any, U any](p device.Page[T], convert func(T) U) PageResponse[U] {
	data := make([]U, 0, len(p.Items))
	for _, item := range p.Items {
		data = append(data, convert(item))
	}
	return PageResponse[U]{
		Data: data,
		MetaData: PageMeta{
			Page:      p.Page,
			Size:      p.Size,
			Total:     p.Total,
			TotalPage: p.TotalPages(),
		},
	}
}

func identity[T any](v T) T { return v }

// pageParams reads the page and size query parameters. Absent values take
// the defaults; malformed ones are rejected.
func pageParams(r *http.Request) (page, size int, err error) {
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 0 {
			return 0, 0, errors.New("page must be a non-negative integer")
		}
	}
	if v := q.Get("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil || size < 1 {
			return 0, 0, errors.New("size must be a positive integer")
		}
	}
	page, size = device.NormalizePage(page, size)
	return page, size, nil
}

// deviceIDParam parses the {id} path parameter as a registry id.
func deviceIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// handleListDevices returns one page of registered devices.
//
// Query parameters:
//   - page: 0-based page number (default 0)
//   - size: page size (default 10, max 100)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	devices, err := s.registry.List(r.Context(), page, size)
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(devices, identity[device.Device]))
}

// handleCreateDevice registers a device manually.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	dev.ID = 0

	if err := s.registry.Create(r.Context(), &dev); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice):
			writeValidationError(w, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device already registered")
		default:
			s.logger.Error("creating device failed", "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}
	s.recordAudit(r.Context(), audit.Entry{
		Action:     audit.ActionDeviceCreate,
		EntityType: audit.EntityDevice,
		EntityID:   strconv.FormatInt(dev.ID, 10),
		Subject:    requestSubject(r),
		Source:     audit.SourceAPI,
		Details:    map[string]any{"deviceId": dev.DeviceID},
	})
	writeJSON(w, http.StatusCreated, dev)
}

// handleGetDevice returns a single device by registry id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(r)
	if !ok {
		writeBadRequest(w, "device id must be a positive integer")
		return
	}

	dev, err := s.registry.GetByID(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleLatestFrame returns the newest stored frame of a device in the
// relay wire shape.
func (s *Server) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(r)
	if !ok {
		writeBadRequest(w, "device id must be a positive integer")
		return
	}

	frame, err := s.registry.LatestFrame(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err, "failed to get latest frame")
		return
	}
	writeJSON(w, http.StatusOK, frame.SensorFrame())
}

// handleFrameHistory returns one page of a device's frames, newest first.
func (s *Server) handleFrameHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(r)
	if !ok {
		writeBadRequest(w, "device id must be a positive integer")
		return
	}
	page, size, err := pageParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	frames, err := s.registry.FrameHistory(r.Context(), id, page, size)
	if err != nil {
		s.writeLookupError(w, err, "failed to get frame history")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(frames, device.Frame.SensorFrame))
}

// writeLookupError maps registry lookup errors to HTTP responses.
func (s *Server) writeLookupError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrFrameNotFound):
		writeNotFound(w, "no sensor data for device")
	default:
		s.logger.Error(message, "error", err)
		writeInternalError(w, message)
	}
}
