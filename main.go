// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/ttbt-io/statkeeper/backend"
)

var (
	addr           = flag.String("addr", ":8080", "The TCP address to listen to")
	useMockAuth    = flag.Bool("use-mock-auth", false, "Use Mock Authentication. For testing purposes only.")
	debugMode      = flag.Bool("debug", false, "Enable debug mode")
	dataDir        = flag.String("data-dir", "data", "Directory for game and team data")
	tlsCert        = flag.String("tls-cert", "", "Path to main HTTP TLS certificate")
	tlsKey         = flag.String("tls-key", "", "Path to main HTTP TLS key")
	postgresDSN    = flag.String("postgres-dsn", "", "Store games in Postgres instead of the data directory")
	redisAddr      = flag.String("redis-addr", "", "Publish game states to this redis server (host:port or redis:// URL)")
	raftEnabled    = flag.Bool("raft", false, "Enable Raft consensus")
	raftBind       = flag.String("raft-bind", ":8081", "Address for Raft TCP transport")
	raftAdvertise  = flag.String("raft-advertise", "", "Public address for Raft traffic (REQUIRED)")
	httpAdvertise  = flag.String("http-advertise", "", "Public address of this node's HTTP API, used to forward writes to the leader (REQUIRED)")
	raftSecret     = flag.String("raft-secret", "", "Shared secret for cluster authentication")
	raftBootstrap  = flag.Bool("raft-bootstrap", false, "Bootstrap the Raft cluster (only for first node)")
	raftJoin       = flag.String("raft-join", "", "HTTP address of a cluster member to join")
	authCookieName = flag.String("auth-cookie-name", "statkeeper_auth", "Name of the cookie containing the JWT")
	authJWKSURL    = flag.String("auth-jwks-url", "", "URL of the JWKS used to verify JWTs")
	bootstrapAdmin = flag.String("admin", "", "Email of temporary admin user for bootstrapping access policy")
	requirePaid    = flag.Bool("require-paid", false, "Require the paid entitlement to create games")
)

// main starts the web server and registers the API handlers.
func main() {
	flag.Parse()

	if *raftEnabled {
		if *raftAdvertise == "" {
			log.Fatal("--raft-advertise is required when Raft is enabled")
		}
		if *httpAdvertise == "" {
			log.Fatal("--http-advertise is required when Raft is enabled")
		}
		if *raftSecret == "" {
			log.Fatal("--raft-secret is required when Raft is enabled")
		}
		if *postgresDSN != "" {
			log.Fatal("--postgres-dsn cannot be combined with --raft")
		}
	}

	var mainTLSCert *tls.Certificate
	if *tlsCert != "" && *tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(*tlsCert, *tlsKey)
		if err != nil {
			log.Fatalf("Failed to load main TLS cert/key: %v", err)
		}
		mainTLSCert = &cert
	}

	masterKey := loadMasterKey(*dataDir)
	store := storage.New(*dataDir, masterKey)
	store.EnableCompression(true)

	server, err := backend.StartServer(backend.Options{
		Addr:                  *addr,
		Cert:                  mainTLSCert,
		DataDir:               *dataDir,
		UseMockAuth:           *useMockAuth,
		Debug:                 *debugMode,
		Storage:               store,
		MasterKey:             masterKey,
		PostgresDSN:           *postgresDSN,
		RedisAddr:             *redisAddr,
		RaftEnabled:           *raftEnabled,
		RaftBind:              *raftBind,
		RaftAdvertise:         *raftAdvertise,
		HTTPAdvertise:         *httpAdvertise,
		RaftSecret:            *raftSecret,
		RaftJoin:              *raftJoin,
		RaftBootstrap:         *raftBootstrap,
		UseProductionTimeouts: true,
		AuthCookieName:        *authCookieName,
		AuthJWKSURL:           *authJWKSURL,
		BootstrapAdmin:        *bootstrapAdmin,
		RequirePaid:           *requirePaid,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	} else {
		log.Println("Gracefully stopped.")
	}
}

// loadMasterKey opens the master key protected by SK_MASTER_KEY, creating it
// on first start. Without the passphrase data is stored unencrypted, which
// is refused when a master key already exists.
func loadMasterKey(dir string) crypto.MasterKey {
	keyFile := filepath.Join(dir, "master.key")
	passphrase := os.Getenv("SK_MASTER_KEY")
	if passphrase == "" {
		if _, err := os.Stat(keyFile); err == nil {
			log.Fatalf("Critical Security Error: %s exists but SK_MASTER_KEY is not set. Refusing to start in unencrypted mode to prevent data corruption or exposure.", keyFile)
		}
		log.Println("Warning: No SK_MASTER_KEY provided. Data will be stored UNENCRYPTED.")
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	masterKey, err := crypto.ReadMasterKey([]byte(passphrase), keyFile)
	if err == nil {
		log.Println("Loaded master encryption key.")
		return masterKey
	}
	if !os.IsNotExist(err) {
		log.Fatalf("Failed to read master key: %v", err)
	}
	log.Println("Initializing new master encryption key...")
	masterKey, err = crypto.CreateMasterKey()
	if err != nil {
		log.Fatalf("Failed to create master key: %v", err)
	}
	if err := masterKey.Save([]byte(passphrase), keyFile); err != nil {
		log.Fatalf("Failed to save master key: %v", err)
	}
	return masterKey
}
