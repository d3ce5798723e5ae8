package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/piwi3910/GangNest/internal/engine"
	"github.com/piwi3910/GangNest/internal/geometry"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/piwi3910/GangNest/internal/report"
	"github.com/pkg/errors"
)

type imageInput struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Width     float64           `json:"width"`
	Height    float64           `json:"height"`
	Quantity  int               `json:"quantity"`
	Copies    int               `json:"copies"` // storefront spelling of quantity
	Rotations model.RotationSet `json:"rotations"`
	Outline   geometry.Polygon  `json:"outline"`
}

type marginConfig struct {
	Margin *float64 `json:"margin"`
}

type nestingInput struct {
	Context        string        `json:"context"`
	SheetWidth     float64       `json:"sheetWidth"`
	Images         []imageInput  `json:"images"`
	MarginConfig   *marginConfig `json:"marginConfig"`
	Strategy       string        `json:"strategy"`
	Seed           int64         `json:"seed"`
	MaxSheetLength float64       `json:"maxSheetLength"`
	MaxSheets      int           `json:"maxSheets"`
	NoSpillover    bool          `json:"noSpillover"`
	Record         *bool         `json:"record"`
}

// request maps the storefront payload onto a nesting request, filling
// unset fields from cfg.
func (in nestingInput) request(cfg model.AppConfig) model.NestingRequest {
	req := model.NestingRequest{
		SheetWidth:     in.SheetWidth,
		Margin:         cfg.DefaultMargin,
		Strategy:       in.Strategy,
		Seed:           in.Seed,
		MaxSheetLength: in.MaxSheetLength,
		MaxSheets:      in.MaxSheets,
		NoSpillover:    in.NoSpillover,
	}
	if in.MarginConfig != nil && in.MarginConfig.Margin != nil {
		req.Margin = *in.MarginConfig.Margin
	}
	for _, img := range in.Images {
		qty := img.Quantity
		if qty == 0 {
			qty = img.Copies
		}
		req.Pieces = append(req.Pieces, model.Piece{
			ID:        img.ID,
			Label:     img.Name,
			ImageURL:  img.URL,
			Width:     img.Width,
			Height:    img.Height,
			Outline:   img.Outline,
			Rotations: img.Rotations,
			Quantity:  qty,
		})
	}
	cfg.ApplyToRequest(&req)
	return req
}


type nestingResponse struct {
	Strategy         string                `json:"strategy"`
	Seed             int64                 `json:"seed,omitempty"`
	Sheets           []model.Sheet         `json:"sheets"`
	Utilization      float64               `json:"utilization"`
	RollUtilization  float64               `json:"rollUtilization"`
	UnplacedPieceIDs []string              `json:"unplacedPieceIds"`
	Unplaced         []model.UnplacedPiece `json:"unplaced,omitempty"`
	TotalLength      float64               `json:"totalLength"`
	Incomplete       bool                  `json:"incomplete"`
	ElapsedMs        float64               `json:"elapsedMs"`
	Quality          engine.QualityReport  `json:"quality"`
	Estimate         *model.PrintEstimate  `json:"estimate,omitempty"`
}

// newNestingResponse prices the layout when pricing covers its sheet width.
func newNestingResponse(r model.NestingResult, pricing []model.Pricing) nestingResponse {
	resp := nestingResponse{
		Strategy:         r.Strategy,
		Seed:             r.Seed,
		Sheets:           r.Sheets,
		Utilization:      r.Utilization,
		RollUtilization:  r.RollUtilization,
		UnplacedPieceIDs: r.UnplacedPieceIDs,
		Unplaced:         r.Unplaced,
		TotalLength:      r.TotalLength,
		Incomplete:       r.Incomplete,
		ElapsedMs:        float64(r.Elapsed) / float64(time.Millisecond),
		Quality:          engine.Inspect(r, 0),
	}
	if p, ok := model.PricingFor(pricing, r.SheetWidth); ok {
		est := model.EstimatePrint(r, p)
		resp.Estimate = &est
	}
	return resp
}

// abort writes an error body. Status picks the message shown to clients.
func abort(c *gin.Context, status int, err error) {
	c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error":      err.Error(),
		"request_id": c.GetString("request_id"),
	})
}

// bindStatus maps a decoding failure to 400 for malformed JSON and 422 for
// well-formed JSON of the wrong shape.
func bindStatus(err error) int {
	var syntax *json.SyntaxError
	if errors.As(err, &syntax) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}

// runStatus maps engine errors to HTTP statuses.
func runStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrStrategyNotFound):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"strategies": s.Engine.Registry.Names(),
		"default":    s.Config.DefaultStrategy,
		"presets":    s.Config.SheetPresets,
	})
}

func (s *Server) handleNesting(c *gin.Context) {
	var in nestingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, bindStatus(err), errors.Wrap(err, "failed to decode nesting request"))
		return
	}
	runContext, ok := model.ParseContext(in.Context)
	if !ok {
		abort(c, http.StatusUnprocessableEntity, errors.Errorf("unknown context %q", in.Context))
		return
	}
	req := in.request(s.Config)
	res, err := s.Engine.Run(c.Request.Context(), req)
	if err != nil {
		abort(c, runStatus(err), err)
		return
	}

	if s.Recorder != nil && (in.Record == nil || *in.Record) {
		s.Recorder.Record(c.Request.Context(), runContext, req.SheetWidth, model.ImageRefs(req.Pieces), res)
	}
	c.JSON(http.StatusOK, newNestingResponse(res, s.Config.Pricing))
}

type telemetryInput struct {
	Context    string              `json:"context"`
	SheetWidth float64             `json:"sheetWidth"`
	Images     []model.ImageRef    `json:"images"`
	Result     model.NestingResult `json:"result"`
}

// handleTelemetry accepts client-side run snapshots. It always answers ok;
// problems are only logged.
func (s *Server) handleTelemetry(c *gin.Context) {
	var in telemetryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		log.WithError(err).WithField("request_id", c.GetString("request_id")).Warn("discarding malformed telemetry")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	ctxName, ok := model.ParseContext(in.Context)
	if !ok {
		log.WithField("request_id", c.GetString("request_id")).WithField("context", in.Context).Warn("discarding telemetry with unknown context")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if s.Recorder != nil {
		s.Recorder.Record(c.Request.Context(), ctxName, in.SheetWidth, in.Images, in.Result)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type compareInput struct {
	nestingInput
	Strategies []string `json:"strategies"`
	Scoring    string   `json:"scoring"`
}

func (s *Server) handleCompare(c *gin.Context) {
	var in compareInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, bindStatus(err), errors.Wrap(err, "failed to decode compare request"))
		return
	}
	ids := in.Strategies
	if len(ids) == 0 {
		ids = s.Config.Compare.Strategies
	}
	cmp := *s.Comparator
	if in.Scoring != "" {
		scorer, ok := engine.Scorers[in.Scoring]
		if !ok {
			abort(c, http.StatusBadRequest, errors.Errorf("unknown scoring %q", in.Scoring))
			return
		}
		cmp.Scorer = scorer
	}

	run, err := cmp.Compare(c.Request.Context(), in.request(s.Config), ids)
	if err != nil {
		abort(c, runStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// parseFilter reads a RecordFilter from the query string.
func parseFilter(c *gin.Context) (model.RecordFilter, error) {
	f := model.RecordFilter{
		Context:  c.Query("context"),
		Strategy: c.Query("strategy"),
	}
	if v := c.Query("sheetWidth"); v != "" {
		w, err := strconv.ParseFloat(v, 64)
		if err != nil || w <= 0 {
			return f, errors.Errorf("invalid sheetWidth %q", v)
		}
		f.SheetWidth = w
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := c.Query(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errors.Errorf("invalid %s %q, want RFC 3339", name, v)
			}
			*dst = t
		}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleReport(c *gin.Context) {
	if s.Reporter == nil {
		abort(c, http.StatusNotFound, errors.New("reporting is disabled"))
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	d, err := s.Reporter.Report(c.Request.Context(), f)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	var buf bytes.Buffer
	var contentType string
	switch format := strings.ToLower(c.DefaultQuery("format", "json")); format {
	case "json":
		c.JSON(http.StatusOK, d)
		return
	case "markdown", "md":
		err = report.WriteMarkdown(&buf, d)
		contentType = "text/markdown; charset=utf-8"
	case "html":
		err = report.WriteHTML(&buf, d)
		contentType = "text/html; charset=utf-8"
	case "xlsx":
		err = report.WriteXLSX(&buf, d)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		c.Header("Content-Disposition", `attachment; filename="nesting-report.xlsx"`)
	default:
		abort(c, http.StatusBadRequest, errors.Errorf("unknown format %q", format))
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
