package server

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/krau/autotagger/imageio"
	"github.com/krau/autotagger/tagger/rrj"
	"github.com/krau/autotagger/tagger/wdv3"
)

func availability(t ImageTagger) string {
	if t != nil && t.Ready() == nil {
		return "available"
	}
	return "unavailable"
}

func (s *Server) healthHandler(c *gin.Context) {
	wd, rj := availability(s.wdv3), availability(s.rrj)
	s.metrics.SetModelLoaded(wdv3.Name, wd == "available")
	s.metrics.SetModelLoaded(rrj.Name, rj == "available")

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"models": gin.H{
			wdv3.Name: wd,
			rrj.Name:  rj,
		},
	})
}

func (s *Server) observe(c *gin.Context, name string, start time.Time) {
	s.metrics.ObserveRequest(name, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
}

func (s *Server) wdv3Handler(c *gin.Context) {
	defer s.observe(c, wdv3.Name, time.Now())

	if err := s.authenticate(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}
	if s.wdv3 == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wd-vit-tagger-v3 is not available"})
		return
	}

	img, ok := s.decodeUpload(c)
	if !ok {
		return
	}

	res, err := s.wdv3.Tag(c.Request.Context(), img, 0)
	if err != nil {
		slog.Error("Tagging failed",
			slog.String("tagger", wdv3.Name),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) rrjHandler(c *gin.Context) {
	defer s.observe(c, rrj.Name, time.Now())

	if err := s.authenticate(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}
	if s.rrj == nil {
		slog.Error("Request for a tagger that failed to initialize", slog.String("tagger", rrj.Name))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "RedRocket Joint Tagger is not available due to an initialization error. Check server logs."})
		return
	}

	threshold := s.cfg.RRJ.Threshold
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 32)
		// ParseFloat accepts "NaN", which slips past the range check.
		if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a number between 0 and 1"})
			return
		}
		threshold = float32(v)
	}

	img, ok := s.decodeUpload(c)
	if !ok {
		return
	}

	start := time.Now()
	res, err := s.rrj.Tag(c.Request.Context(), img, threshold)
	if err != nil {
		slog.Error("Tagging failed",
			slog.String("tagger", rrj.Name),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	slog.Debug("Inference finished",
		slog.Duration("took", time.Since(start)),
		slog.Int("tags", len(res.Tags)))
	c.JSON(http.StatusOK, res)
}

// decodeUpload reads and decodes the multipart upload, writing the error
// response itself when the request is unusable.
func (s *Server) decodeUpload(c *gin.Context) (image.Image, bool) {
	fileHeader, err := c.FormFile("image_upload")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("uploaded file exceeds the %d MB limit", s.cfg.Limits.MaxUploadMB),
			})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not open uploaded file"})
		return nil, false
	}
	defer file.Close()

	img, format, err := imageio.Decode(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not decode image"})
		return nil, false
	}
	slog.Debug("Image decoded",
		slog.String("format", format),
		slog.String("name", fileHeader.Filename),
		slog.Int64("size", fileHeader.Size))
	return img, true
}

func (s *Server) indexHandler(c *gin.Context) {
	if _, err := os.Stat(s.cfg.Frontend.HTML); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s not found", s.cfg.Frontend.HTML)})
		return
	}
	c.File(s.cfg.Frontend.HTML)
}
