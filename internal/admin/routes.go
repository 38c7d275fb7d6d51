package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/omapi/internal/dhclient"
	"github.com/danmuck/omapi/internal/observability"
	"github.com/danmuck/omapi/internal/omapi"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gopkg.in/vmihailenco/msgpack.v2"
)

const msgpackContentType = "application/msgpack"

var (
	ErrNameRequired   = errors.New("name is required")
	ErrInterfaceTaken = errors.New("interface already listed")
	ErrBadHandle      = errors.New("handle must be a positive integer")
)

// ObjectView is the rendered form of one object.
type ObjectView struct {
	Type   string         `json:"type" msgpack:"type"`
	Handle uint32         `json:"handle,omitempty" msgpack:"handle,omitempty"`
	Values map[string]any `json:"values" msgpack:"values"`
}

type InterfaceInfo struct {
	Name   string `json:"name"`
	Flags  string `json:"flags"`
	State  string `json:"state"`
	Handle uint32 `json:"handle,omitempty"`
}

type createRequest struct {
	Name string `json:"name"`
}

func (s *Server) RegisterRoutes() {
	s.router.Use(s.requireToken())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.Name,
			"version": "0.0.1",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		registered := 0
		if s.deps.Loop != nil {
			registered = s.deps.Loop.Len()
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":      s.deps.Loop != nil,
			"registered": registered,
			"uptime":     time.Since(s.Appeared).String(),
			"service":    s.Name,
		})
	})

	s.router.GET("/interfaces", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"interfaces": s.ListInterfaces()})
	})

	s.router.GET("/interfaces/:name", func(c *gin.Context) {
		view, status := s.LookupInterface(c.Param("name"))
		if status != omapi.StatusSuccess {
			writeStatus(c, status)
			return
		}
		render(c, http.StatusOK, view)
	})

	s.router.POST("/interfaces", func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		view, err := s.CreateInterface(req.Name)
		if err != nil {
			code := http.StatusInternalServerError
			var status omapi.Status
			switch {
			case errors.Is(err, ErrNameRequired):
				code = http.StatusBadRequest
			case errors.Is(err, ErrInterfaceTaken):
				code = http.StatusConflict
			case errors.As(err, &status):
				code = httpStatus(status)
				c.Set(observability.ObjectStatusKey, status.String())
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		render(c, http.StatusCreated, view)
	})

	s.router.GET("/objects/:handle", func(c *gin.Context) {
		h, err := strconv.ParseUint(c.Param("handle"), 10, 32)
		if err != nil || h == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrBadHandle.Error()})
			return
		}
		view, status := s.Object(omapi.Handle(h))
		if status != omapi.StatusSuccess {
			writeStatus(c, status)
			return
		}
		render(c, http.StatusOK, view)
	})
}

// ListInterfaces snapshots every listed interface.
func (s *Server) ListInterfaces() []InterfaceInfo {
	out := make([]InterfaceInfo, 0)
	s.deps.Loop.Do(func() {
		s.deps.Interfaces.Interfaces().Each(func(ip *dhclient.Interface) bool {
			info := InterfaceInfo{Name: ip.Name(), Flags: ip.Flags().String(), State: "down"}
			if ip.Up() {
				info.State = "up"
			}
			if h, ok := omapi.HandleOf(ip); ok {
				info.Handle = uint32(h)
			}
			out = append(out, info)
			return true
		})
	})
	return out
}

// LookupInterface resolves name through the interface type's lookup.
func (s *Server) LookupInterface(name string) (ObjectView, omapi.Status) {
	var view ObjectView
	status := omapi.StatusSuccess
	s.deps.Loop.Do(func() {
		var query omapi.Ref
		defer query.Release()
		if status = s.deps.Generic.New(&query); status != omapi.StatusSuccess {
			return
		}
		if status = omapi.SetValue(query.Get(), nil, "name", omapi.NewString(name)); !status.OK() {
			return
		}
		var found omapi.Ref
		defer found.Release()
		if status = s.deps.Interfaces.Type().Lookup(&found, nil, query.Get()); status != omapi.StatusSuccess {
			return
		}
		view, status = viewOf(found.Get())
	})
	return view, status
}

// CreateInterface creates a requested interface, names it, starts it with
// an update signal and gives it a handle.
func (s *Server) CreateInterface(name string) (ObjectView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ObjectView{}, ErrNameRequired
	}
	var view ObjectView
	var err error
	s.deps.Loop.Do(func() {
		if _, ok := s.deps.Interfaces.Interfaces().Find(name); ok {
			err = ErrInterfaceTaken
			return
		}
		var ref omapi.Ref
		defer ref.Release()
		if status := s.deps.Interfaces.Type().Create(&ref, nil); status != omapi.StatusSuccess {
			err = status
			return
		}
		obj := ref.Get()
		if status := omapi.SetValue(obj, nil, "name", omapi.NewString(name)); !status.OK() {
			err = status
			return
		}
		if status := omapi.SendSignal(obj, omapi.Update{}); !status.OK() {
			err = status
			return
		}
		if s.deps.Handles != nil {
			if _, status := s.deps.Handles.Assign(obj); !status.OK() {
				err = status
				return
			}
		}
		var status omapi.Status
		if view, status = viewOf(obj); status != omapi.StatusSuccess {
			err = status
			return
		}
		log.Info().Str("interface", name).Uint32("handle", view.Handle).Msg("interface created")
	})
	return view, err
}

func (s *Server) Object(h omapi.Handle) (ObjectView, omapi.Status) {
	if s.deps.Handles == nil {
		return ObjectView{}, omapi.StatusNotFound
	}
	var view ObjectView
	var status omapi.Status
	s.deps.Loop.Do(func() {
		var ref omapi.Ref
		defer ref.Release()
		if status = s.deps.Handles.Lookup(&ref, h); status != omapi.StatusSuccess {
			return
		}
		view, status = viewOf(ref.Get())
	})
	return view, status
}

func viewOf(obj omapi.Object) (ObjectView, omapi.Status) {
	var rec omapi.ValueRecorder
	if status := omapi.StuffValues(&rec, nil, obj); status != omapi.StatusSuccess {
		return ObjectView{}, status
	}
	view := ObjectView{Type: omapi.TypeOf(obj).Name(), Values: rec.Map()}
	if h, ok := omapi.HandleOf(obj); ok {
		view.Handle = uint32(h)
	}
	return view, omapi.StatusSuccess
}

// render answers in msgpack when ?format=msgpack, JSON otherwise.
func render(c *gin.Context, code int, view ObjectView) {
	c.Set(observability.ObjectStatusKey, omapi.StatusSuccess.String())
	if c.Query("format") != "msgpack" {
		c.JSON(code, view)
		return
	}
	data, err := msgpack.Marshal(view)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(code, msgpackContentType, data)
}

func writeStatus(c *gin.Context, status omapi.Status) {
	c.Set(observability.ObjectStatusKey, status.String())
	c.JSON(httpStatus(status), gin.H{"error": status.String()})
}

func httpStatus(status omapi.Status) int {
	switch status {
	case omapi.StatusSuccess, omapi.StatusUnchanged:
		return http.StatusOK
	case omapi.StatusNotFound:
		return http.StatusNotFound
	case omapi.StatusInvalidArgument, omapi.StatusNoKeysSpecified:
		return http.StatusBadRequest
	case omapi.StatusKeyConflict:
		return http.StatusConflict
	case omapi.StatusNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
