package main

import (
	"crypto/x509"
	"flag"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"moonstone/internal/api"
	"moonstone/internal/config"
	"moonstone/internal/push"
	"moonstone/internal/service"
	"moonstone/internal/store"
)

func main() {
	initDB := flag.Bool("init", false, "Initialize database and exit")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger := logrus.WithField("component", "mdmserver")

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if cfg.DebugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logger.WithField("path", cfg.DatabasePath).Info("opening database")
	db, err := store.NewSQLite(cfg.DatabasePath, logrus.WithField("component", "store"))
	if err != nil {
		logger.WithError(err).Fatal("opening database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.WithError(err).Fatal("running migrations")
	}
	if *initDB {
		logger.Info("database initialized")
		return
	}

	base := service.NewNanoMDM(db, logrus.WithField("component", "service"))
	svc := service.NewCertAuth(db, base, logrus.WithField("component", "certauth"))

	var sigRoots *x509.CertPool
	if cfg.SignatureCAFile != "" {
		pemData, err := os.ReadFile(cfg.SignatureCAFile)
		if err != nil {
			logger.WithError(err).Fatal("reading signature CA")
		}
		sigRoots = x509.NewCertPool()
		if !sigRoots.AppendCertsFromPEM(pemData) {
			logger.Fatal("no certificates in signature CA file")
		}
	}

	provider := push.NewProvider(db, logrus.WithField("component", "push"))
	pushService := push.NewService(db, provider)

	mdmHandler := api.NewMDMHandler(svc, logrus.WithField("component", "mdm"), cfg.VerifyMdmSignature, sigRoots)
	operator := api.NewOperatorHandler(db, pushService, provider, logrus.WithField("component", "operator"))
	router := api.NewRouter(mdmHandler, operator, []byte(cfg.JWTSecret), logrus.WithField("component", "http"))

	logger.WithField("addr", cfg.ListenAddr).Info("listening")
	if cfg.IsTLSEnabled() {
		srv := &http.Server{
			Addr:      cfg.ListenAddr,
			Handler:   router,
			TLSConfig: cfg.TLSServerConfig(),
		}
		err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		err = http.ListenAndServe(cfg.ListenAddr, router)
	}
	logger.WithError(err).Fatal("server stopped")
}
