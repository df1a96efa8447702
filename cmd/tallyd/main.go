package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/teamtally/tally/pkg/api/handlers"
	"github.com/teamtally/tally/pkg/api/ws"
	"github.com/teamtally/tally/pkg/auth"
	kpool "github.com/teamtally/tally/pkg/conn/db/postgres/pool"
	"github.com/teamtally/tally/pkg/conn/db/postgres/schema"
	cfgs "github.com/teamtally/tally/pkg/configs/server"
	rosterpg "github.com/teamtally/tally/pkg/domain/roster/db/postgres"
	telempg "github.com/teamtally/tally/pkg/domain/telemetry/db/postgres"
	"github.com/teamtally/tally/pkg/livesync/editor"
	"github.com/teamtally/tally/pkg/livesync/presence"
	"github.com/teamtally/tally/pkg/livesync/registry"
	"github.com/teamtally/tally/pkg/livesync/replication"
	"github.com/teamtally/tally/pkg/livesync/session"
	"github.com/teamtally/tally/pkg/utils/echoutil"
	"github.com/teamtally/tally/pkg/utils/filewatch"
	"github.com/teamtally/tally/pkg/utils/retry"
)

func main() {
	configPath := flag.String("config-path", "", "server config path")
	schemaPath := flag.String("schema", "", "schema repository path. when set, refuse to run against an outdated database")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	conf, err := cfgs.LoadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("can not read configuration: %s", err)
	}

	e := echo.New()
	e.Pre(middleware.AddTrailingSlash())
	echoutil.SetLevel(e, conf.LogLevel())
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	// the server restarts (by its supervisor) when the config changes.
	ctx, cancel, err := filewatch.UntilModifyContext(context.Background(), *configPath)
	if err != nil {
		log.Fatalf("can not watch configuration: %s", err)
	}
	defer cancel()
	context.AfterFunc(ctx, func() {
		log.Println("config file is updated. quit to restart server.")
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			log.Printf("error on shutdown by config update: %s", err)
		}
	})

	// the database may come up after us; keep knocking for a while.
	pgpool, err := retry.Blocking(
		ctx, retry.StaticBackoff(3*time.Second),
		func() (*pgxpool.Pool, error) {
			p, err := pgxpool.Connect(ctx, conf.Database())
			if err != nil {
				log.Printf("database is not ready: %s", err)
				return nil, retry.ErrRetry
			}
			return p, nil
		},
	)
	if err != nil {
		log.Fatalf("can not connect to database: %s", err)
	}
	defer pgpool.Close()
	db := kpool.Wrap(pgpool)

	if *schemaPath != "" {
		if err := schema.New(db, *schemaPath).UpToDate(ctx); err != nil {
			log.Fatalf("refusing to start: %s", err)
		}
	}

	issuer := auth.NewIssuer(conf.Token().Key(), conf.Token().TTL())
	roster := rosterpg.New(db, conf.Timezone())
	telemetry := telempg.New(db)
	audit := handlers.NewAudit(telemetry, log.Default())
	bus := replication.NewBus(db, log.Default())
	sessions := session.NewRegistry()

	pools := registry.New(map[registry.Kind]registry.Factory{
		registry.KindEditor: editor.NewFactory(editor.Config{
			DB: db, Bus: bus, Location: conf.Timezone(), Logger: log.Default(),
		}),
		registry.KindPresence: presence.NewFactory(presence.Config{
			DB: db, Bus: bus, Location: conf.Timezone(), Logger: log.Default(),
		}),
	})

	// warm the pools with the process context: their listeners and
	// workers must outlive the request that would otherwise build them.
	// A missing change feed is not worth starting with.
	for _, kind := range []registry.Kind{registry.KindEditor, registry.KindPresence} {
		if _, err := pools.Get(ctx, kind); err != nil {
			log.Fatalf("can not start %s pool: %s", kind, err)
		}
	}

	// open the telemetry listener on the process context, not on the
	// first stream request's; the cursor itself is never read.
	if _, err := replication.Subscribe(ctx, bus, replication.Telemetry); err != nil {
		log.Fatalf("can not open telemetry feed: %s", err)
	}

	users := map[string]handlers.Credential{}
	for name, u := range conf.Users() {
		users[name] = handlers.Credential{
			PasswordHash: u.PasswordHash(),
			Permissions:  u.Permissions(),
		}
	}

	// handlers
	{
		e.POST("/api/login/", handlers.LoginHandler(issuer, users, audit))
		e.POST("/api/swipe/", handlers.SwipeHandler(roster))
		e.GET("/api/swipe/", handlers.PresentHandler(roster))
		e.GET("/api/live/", ws.New(sessions, pools, issuer, log.Default()))
	}
	{
		view := handlers.RequirePermission(issuer, auth.PermHoursView)
		e.GET("/api/students/:id/records/", handlers.StudentRecordsHandler(roster), view)
		e.GET("/api/export/", handlers.ExportHandler(roster, conf.Timezone()), view)
	}
	{
		edit := handlers.RequirePermission(issuer, auth.PermHoursEdit)
		e.POST("/api/records/", handlers.CreateRecordHandler(roster, audit), edit)
		e.PUT("/api/records/:id/", handlers.UpdateRecordHandler(roster, audit), edit)
		e.DELETE("/api/records/:id/", handlers.DeleteRecordHandler(roster, audit), edit)
	}
	{
		rosterPerm := handlers.RequirePermission(issuer, auth.PermRoster)
		e.GET("/api/students/", handlers.StudentsHandler(roster), rosterPerm)
		e.PUT("/api/students/", handlers.UpsertStudentHandler(roster, audit), rosterPerm)
		e.DELETE("/api/students/:id/", handlers.DeleteStudentHandler(roster, audit), rosterPerm)
	}
	{
		telem := handlers.RequirePermission(issuer, auth.PermTelemetry)
		e.GET("/api/telemetry/", handlers.TelemetryHandler(telemetry), telem)
		e.GET("/api/telemetry/stream/", handlers.TelemetryStreamHandler(bus, log.Default()), telem)
		e.GET("/api/telemetry/:event_type/", handlers.TelemetryByTypeHandler(telemetry), telem)
	}

	log.Println("registered routes:")
	for _, r := range e.Routes() {
		log.Println(r.Method, r.Path)
	}

	addr := fmt.Sprintf(":%d", conf.Port())
	cert, key := *pcert, *pkey
	if cert != "" && key != "" {
		e.Logger.Fatal(e.StartTLS(addr, cert, key))
	} else {
		e.Logger.Fatal(e.Start(addr))
	}
}
