package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/NIGHTX-99/SecureAttend/internal/attend/challenge"
	"github.com/NIGHTX-99/SecureAttend/internal/attend/service"
	sqlitestore "github.com/NIGHTX-99/SecureAttend/internal/attend/store/sqlite"
	"github.com/NIGHTX-99/SecureAttend/internal/config"
	"github.com/NIGHTX-99/SecureAttend/internal/db"
	"github.com/NIGHTX-99/SecureAttend/internal/httpapi"
	"github.com/NIGHTX-99/SecureAttend/internal/pki"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Env == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CA + revocation state.
	ca, err := pki.InitCA(pki.CAConfig{
		Dir:          cfg.CADir,
		Organization: cfg.Organization,
		ValidityDays: cfg.CAValidityDays,
		RSABits:      cfg.RSABits,
	}, time.Now().UTC())
	if err != nil {
		logger.Fatal("init CA", zap.Error(err))
	}

	crl := pki.NewCRLManager(ca, cfg.CRLValidityDays)

	validator, err := pki.NewValidator(ca.Certificate(), crl)
	if err != nil {
		logger.Fatal("init validator", zap.Error(err))
	}

	// Database.
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	if cfg.Env == "dev" && len(cfg.DevSeedStudents) > 0 {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{
			StudentIDs: cfg.DevSeedStudents,
			RoomID:     cfg.DevSeedRoom,
		}); err != nil {
			logger.Fatal("seed dev data", zap.Error(err))
		}
	}

	attendanceStore := sqlitestore.NewAttendanceStore(conn, writer)
	authzStore := sqlitestore.NewAuthorizationStore(conn, writer)

	// Attendance records are signed with a dedicated server identity when
	// one is configured; the CA key is the fallback.
	signingKey, err := serverSigningKey(ca, cfg, logger)
	if err != nil {
		logger.Fatal("load signing key", zap.Error(err))
	}

	recorder := service.NewRecorder(attendanceStore, signingKey)

	challenges := challenge.NewRegistry(challenge.Config{
		TTL:         time.Duration(cfg.ChallengeTTLSeconds) * time.Second,
		NonceWindow: time.Duration(cfg.NonceWindowSeconds) * time.Second,
	})

	accessSvc := service.NewAccessService(validator, challenges, authzStore, recorder, logger)
	enrollmentSvc := service.NewEnrollmentService(authzStore)

	// Challenge GC sweep.
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.NonceWindowSeconds) * time.Second / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := challenges.Sweep(time.Now().UTC())
				if removed > 0 {
					logger.Debug("challenge sweep", zap.Int("removed", removed))
				}
			}
		}
	}()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:            logger,
		Addr:              cfg.HTTPAddr,
		AccessService:     accessSvc,
		EnrollmentService: enrollmentSvc,
		Recorder:          recorder,
		CACertificatePEM:  ca.CertificatePEM(),
		CRL:               crl,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// serverSigningKey resolves the attendance signing identity: the configured
// server certificate's key (issued on first boot if absent), or the CA key
// when no server id is set.
func serverSigningKey(ca *pki.CA, cfg config.Config, logger *zap.Logger) (*rsa.PrivateKey, error) {
	if cfg.ServerID == "" {
		logger.Warn("no server_id configured; signing attendance records with the CA key")
		return ca.Signer(), nil
	}

	dir := filepath.Join(cfg.CertsDir, "servers", cfg.ServerID)
	keyPath := filepath.Join(dir, "private_key.pem")

	if keyPEM, err := os.ReadFile(keyPath); err == nil {
		return pki.ParsePrivateKeyPEM(keyPEM)
	}

	issued, err := ca.IssueServer(cfg.ServerID, cfg.ServerValidityDays, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "certificate.pem"), issued.CertificatePEM, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, issued.PrivateKeyPEM, 0o600); err != nil {
		return nil, err
	}
	logger.Info("issued server signing certificate",
		zap.String("server_id", cfg.ServerID),
		zap.String("serial", issued.Record.Serial))

	return pki.ParsePrivateKeyPEM(issued.PrivateKeyPEM)
}
