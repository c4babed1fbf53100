// Command jwks-to-pem prints the Supabase project's JWT signing key as PEM,
// ready to paste into SUPABASE_JWT_SECRET for projects on asymmetric keys.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"familynest/internal/logger"
	"familynest/internal/util"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	projectURL := flag.String("url", os.Getenv("SUPABASE_URL"), "Supabase project URL")
	kid := flag.String("kid", "", "key id to export; defaults to the first signing key")
	flag.Parse()

	if *projectURL == "" {
		*projectURL = "http://127.0.0.1:54321"
	}
	endpoint := strings.TrimRight(*projectURL, "/") + "/auth/v1/.well-known/jwks.json"

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		log.Fatal().Err(err).Str("url", endpoint).Msg("Error fetching JWKS")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		log.Fatal().Int("status", resp.StatusCode).Str("url", endpoint).Msg("Unexpected JWKS response")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading response")
	}
	var jwks util.JWKS
	if err := json.Unmarshal(body, &jwks); err != nil {
		log.Fatal().Err(err).Msg("Error parsing JWKS")
	}

	key, err := jwks.SigningKey(*kid)
	if err != nil {
		log.Fatal().Err(err).Msg("No usable key")
	}
	pemBytes, err := key.PEM()
	if err != nil {
		log.Fatal().Err(err).Str("kid", key.Kid).Msg("Error converting key")
	}
	fmt.Print(string(pemBytes))
}
