// Command walstream reads wal2json logical replication from PostgreSQL and
// rebroadcasts every transaction to TCP clients, one JSON document each.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type settings struct {
	ConnString string
	Slot       string
	Listen     string
}

func loadSettings() settings {
	v := viper.New()
	v.SetEnvPrefix("WALSTREAM")
	v.AutomaticEnv()
	v.SetDefault("slot", "livesql_slot")
	v.SetDefault("listen", ":9000")

	// The PG* variables follow libpq.
	pg := viper.New()
	pg.AutomaticEnv()
	pg.SetDefault("PGHOST", "postgres")
	pg.SetDefault("PGPORT", "5432")
	pg.SetDefault("PGUSER", "postgres")
	pg.SetDefault("PGPASSWORD", "pass")
	pg.SetDefault("PGDATABASE", "postgres")

	return settings{
		ConnString: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s replication=database",
			pg.GetString("PGHOST"), pg.GetString("PGPORT"), pg.GetString("PGUSER"),
			pg.GetString("PGPASSWORD"), pg.GetString("PGDATABASE")),
		Slot:   v.GetString("slot"),
		Listen: v.GetString("listen"),
	}
}

func main() {
	log, _ := zap.NewProduction()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := loadSettings()
	b := NewBroadcaster(log)

	l, err := net.Listen("tcp", s.Listen)
	if err != nil {
		log.Fatal("tcp listen", zap.Error(err))
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	go replicate(ctx, s, b, log)
	serve(ctx, l, b, log)
}

// replicate is the single goroutine reading from PostgreSQL. It reconnects
// until ctx is done.
func replicate(ctx context.Context, s settings, b *Broadcaster, log *zap.Logger) {
	for {
		err := readReplication(ctx, s, b, log)
		if ctx.Err() != nil {
			return
		}
		log.Warn("replication connection error, reconnecting", zap.Error(err))
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func readReplication(ctx context.Context, s settings, b *Broadcaster, log *zap.Logger) error {
	conn, err := pgconn.Connect(ctx, s.ConnString)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	sys, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return err
	}
	log.Info("identified system",
		zap.String("system_id", sys.SystemID),
		zap.Int32("timeline", sys.Timeline),
		zap.String("xlogpos", sys.XLogPos.String()),
		zap.String("db", sys.DBName))

	_, err = pglogrepl.CreateReplicationSlot(ctx, conn, s.Slot, "wal2json", pglogrepl.CreateReplicationSlotOptions{})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create slot %s: %w", s.Slot, err)
	}

	err = pglogrepl.StartReplication(ctx, conn, s.Slot, sys.XLogPos,
		pglogrepl.StartReplicationOptions{PluginArgs: []string{"\"pretty-print\" 'true'"}})
	if err != nil {
		return err
	}
	log.Info("logical replication started", zap.String("slot", s.Slot))

	var lastLSN pglogrepl.LSN
	standbyMessageTimeout := 10 * time.Second
	nextStandbyMessageDeadline := time.Now().Add(standbyMessageTimeout)

	for {
		if time.Now().After(nextStandbyMessageDeadline) && lastLSN != 0 {
			err = pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: lastLSN})
			if err != nil {
				return fmt.Errorf("standby status update: %w", err)
			}
			log.Debug("sent standby status", zap.String("lsn", lastLSN.String()))
			nextStandbyMessageDeadline = time.Now().Add(standbyMessageTimeout)
		}

		rctx, cancel := context.WithDeadline(ctx, nextStandbyMessageDeadline)
		rawMsg, err := conn.ReceiveMessage(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
				continue
			}
			return err
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return errors.New(errMsg.Message)
		}

		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			log.Warn("unexpected message", zap.String("type", fmt.Sprintf("%T", rawMsg)))
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				log.Warn("parse keepalive", zap.Error(err))
				continue
			}
			if pkm.ReplyRequested {
				nextStandbyMessageDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				log.Warn("parse xlog data", zap.Error(err))
				continue
			}
			lastLSN = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
			b.Broadcast(xld.WALData)
		}
	}
}

// serve accepts clients until the listener is closed.
func serve(ctx context.Context, l net.Listener, b *Broadcaster, log *zap.Logger) {
	log.Info("listening for clients", zap.String("addr", l.Addr().String()))
	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("accept", zap.Error(err))
			continue
		}
		go handleClient(ctx, c, b, log)
	}
}

// handleClient writes every broadcast to c until it disconnects.
func handleClient(ctx context.Context, c net.Conn, b *Broadcaster, log *zap.Logger) {
	defer c.Close()
	log = log.With(zap.String("client", c.RemoteAddr().String()))
	log.Info("client connected")

	messages := make(chan []byte, 100)
	b.AddListener(messages)
	defer b.RemoveListener(messages)

	for {
		select {
		case msg := <-messages:
			if _, err := c.Write(append(msg, '\n')); err != nil {
				log.Info("client write failed, disconnecting", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
