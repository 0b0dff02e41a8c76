package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/firmware"
	"github.com/muurk/otafleet/internal/logging"
)

// chunkSize is the streaming write size.
const chunkSize = 4096

// handleFirmware streams the current image.
func (s *Server) handleFirmware(w http.ResponseWriter, r *http.Request) {
	img, ok := s.catalog.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "firmware not found")
		return
	}
	s.streamImage(w, r, img)
}

// handleFirmwareByName streams a named image from the firmware directory.
func (s *Server) handleFirmwareByName(w http.ResponseWriter, r *http.Request) {
	img, err := s.catalog.Lookup(chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, firmware.ErrInvalidName), errors.Is(err, firmware.ErrNotFound):
		writeError(w, http.StatusNotFound, "firmware not found")
		return
	case err != nil:
		logging.Error("Failed to look up firmware", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "firmware unavailable")
		return
	}
	s.streamImage(w, r, img)
}

// streamImage sends img to the device and reports progress to the tracker
// under the device's canonical key.
func (s *Server) streamImage(w http.ResponseWriter, r *http.Request, img *firmware.Image) {
	ip := clientIP(r)
	key := s.fleet.KeyFor(r.Header.Get("Device-Id"), ip)

	rec, _ := s.fleet.Lookup(key)
	if !s.mayDownload(rec) {
		logging.Warn("Refused firmware download",
			zap.String("key", key),
			zap.String("approval", rec.Approval.String()),
		)
		writeError(w, http.StatusForbidden, "device not approved")
		return
	}

	f, err := os.Open(img.Path)
	if err != nil {
		logging.Error("Failed to open firmware", zap.String("path", img.Path), zap.Error(err))
		writeError(w, http.StatusNotFound, "firmware not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(img.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", img.Name))
	w.WriteHeader(http.StatusOK)

	logging.Info("Serving firmware",
		zap.String("key", key),
		zap.String("ip", ip),
		zap.String("file", img.Name),
		zap.String("size", img.SizeLabel),
	)

	id := s.fleet.StartTransfer(key, img.Size)
	start := time.Now()

	sent, err := s.copyWithProgress(w, f, key)
	if err == nil && sent < img.Size {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		s.fleet.AbortTransfer(key, id)
		logging.Warn("Firmware download interrupted",
			zap.String("key", key),
			zap.Int64("sent", sent),
			zap.Int64("total", img.Size),
			zap.Error(err),
		)
		return
	}

	s.fleet.ReportProgress(key, sent)
	s.fleet.CompleteTransfer(key, id)

	elapsed := time.Since(start)
	logging.Info("Firmware download complete",
		zap.String("key", key),
		zap.String("size", img.SizeLabel),
		zap.Duration("elapsed", elapsed),
	)
}

// copyWithProgress writes src to w in chunkSize pieces, reporting the
// cumulative byte count at most every progressInterval.
func (s *Server) copyWithProgress(w http.ResponseWriter, src io.Reader, key string) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)
	var sent int64
	lastReport := time.Now()

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return sent, err
			}
			sent += int64(n)
			if time.Since(lastReport) >= s.progressInterval {
				if flusher != nil {
					flusher.Flush()
				}
				s.fleet.ReportProgress(key, sent)
				lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			return sent, nil
		}
		if readErr != nil {
			return sent, readErr
		}
	}
}
