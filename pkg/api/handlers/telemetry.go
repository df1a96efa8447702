package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/domain"
	telemdb "github.com/teamtally/tally/pkg/domain/telemetry/db"
	"github.com/teamtally/tally/pkg/livesync/replication"
	"github.com/teamtally/tally/pkg/utils/slices"
)

type telemetryMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func bindTelemetry(ev domain.TelemetryEvent) telemetryMessage {
	return telemetryMessage{
		ID: ev.ID, Event: ev.Event, Data: ev.Data, Timestamp: ev.Timestamp,
	}
}

// pageOf reads the count and skip query parameters. count is required;
// the storage layer caps how large it may be.
func pageOf(c echo.Context) (telemdb.Page, error) {
	raw := c.QueryParam("count")
	if raw == "" {
		return telemdb.Page{}, fmt.Errorf("count is required")
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return telemdb.Page{}, fmt.Errorf("count: %w", err)
	}

	skip := 0
	if raw := c.QueryParam("skip"); raw != "" {
		if skip, err = strconv.Atoi(raw); err != nil {
			return telemdb.Page{}, fmt.Errorf("skip: %w", err)
		}
	}
	return telemdb.Page{Count: count, Skip: skip}, nil
}

// TelemetryHandler lists one page of the audit log, oldest first.
func TelemetryHandler(store telemdb.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		page, err := pageOf(c)
		if err != nil {
			return badRequest(err)
		}
		events, err := store.List(c.Request().Context(), page)
		if err != nil {
			return toHTTP(err)
		}
		return c.JSON(http.StatusOK, slices.Map(events, bindTelemetry))
	}
}

// TelemetryByTypeHandler lists one page of a single event type.
func TelemetryByTypeHandler(store telemdb.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		page, err := pageOf(c)
		if err != nil {
			return badRequest(err)
		}
		page.Event = c.Param("event_type")
		events, err := store.List(c.Request().Context(), page)
		if err != nil {
			return toHTTP(err)
		}
		return c.JSON(http.StatusOK, slices.Map(events, bindTelemetry))
	}
}

// TelemetryStreamHandler pushes new audit events to the client as they
// land, as server-sent events.
//
// The stream ends when the client hangs up or the change feed is lost;
// the client reconnects and pages up whatever it missed.
func TelemetryStreamHandler(bus *replication.Bus, logger *log.Logger) echo.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		cursor, err := replication.Subscribe(ctx, bus, replication.Telemetry)
		if err != nil {
			return toHTTP(err)
		}
		defer cursor.Close()

		resp := c.Response()
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set("Cache-Control", "no-cache")
		resp.WriteHeader(http.StatusOK)
		resp.Flush()

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-cursor.C():
				if !ok {
					return nil
				}
				if ev.Op != replication.OpInsert {
					continue
				}
				data, err := json.Marshal(bindTelemetry(ev.Row))
				if err != nil {
					logger.Printf("telemetry stream: marshal %s: %s", ev.Key, err)
					continue
				}
				if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
					return nil
				}
				resp.Flush()
			}
		}
	}
}
