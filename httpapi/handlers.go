package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/model"
)

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, model.HealthResponse{Status: "healthy"})
}

func (s *Server) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, model.StatsResponse(s.stats.Snapshot()))
}

// POST /api/v1/add/text {"text": "..."}
func (s *Server) addText(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(body) {
		return badRequest("invalid JSON body")
	}
	text := gjson.GetBytes(body, "text")
	if text.Type != gjson.String {
		return badRequest(`field "text" must be a string`)
	}
	if text.Str == "" {
		return badRequest("empty text")
	}
	return s.add(c, bytes.NewReader([]byte(text.Str)))
}

// POST /api/v1/add/json {"data": <any>}
// The value is stored in compact form, so whitespace does not change its CID.
func (s *Server) addJSON(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(body) {
		return badRequest("invalid JSON body")
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return badRequest(`missing field "data"`)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(data.Raw)); err != nil {
		return badRequest("invalid JSON data")
	}
	return s.add(c, &compact)
}

// POST /api/v1/add/bytes with the raw payload as body.
func (s *Server) addBytes(c echo.Context) error {
	br := bufio.NewReader(c.Request().Body)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("empty body")
		}
		return err
	}
	return s.add(c, br)
}

// POST /api/v1/add/file, multipart field "file".
func (s *Server) addFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return err
		}
		return badRequest(`missing multipart field "file"`)
	}
	if fh.Size == 0 {
		return badRequest("empty file")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	id, err := s.store.AddBytes(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, model.AddResponse{CID: cidutil.String(id), Name: fh.Filename, Size: fh.Size})
}

func (s *Server) add(c echo.Context, r io.Reader) error {
	id, err := s.store.AddBytes(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, model.AddResponse{CID: cidutil.String(id)})
}

// GET /api/v1/cat/:cid streams the reconstructed object. Range and
// conditional requests are handled by http.ServeContent.
func (s *Server) cat(c echo.Context) error {
	id, err := cidutil.Parse(c.Param("cid"))
	if err != nil {
		return err
	}
	r, err := s.store.Cat(c.Request().Context(), id)
	if err != nil {
		return err
	}
	defer r.Close()

	sniff := make([]byte, 512)
	n, err := io.ReadFull(r, sniff)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}

	key := cidutil.String(id)
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, http.DetectContentType(sniff[:n]))
	h.Set("ETag", fmt.Sprintf("%q", key))
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set("X-Content-CID", key)

	tr := &trackingReader{rs: r}
	http.ServeContent(c.Response(), c.Request(), "", time.Time{}, tr)
	if tr.err != nil {
		// Headers are gone; abort the connection so the client cannot
		// mistake a truncated body for the object.
		s.log.Error("cat aborted", "cid", key, "error", tr.err)
		panic(http.ErrAbortHandler)
	}
	return nil
}

// GET /api/v1/stat/:cid
func (s *Server) stat(c echo.Context) error {
	id, err := cidutil.Parse(c.Param("cid"))
	if err != nil {
		return err
	}
	st, err := s.store.Stat(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, model.StatResponse(st))
}

// trackingReader remembers the first non-EOF read error, which
// http.ServeContent would otherwise drop.
type trackingReader struct {
	rs  io.ReadSeeker
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.rs.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}

func (t *trackingReader) Seek(offset int64, whence int) (int64, error) {
	return t.rs.Seek(offset, whence)
}
