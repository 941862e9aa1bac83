// Command geosign prints the canonical form of a geolocation payload and its
// signature. Client developers and support staff use it to check what the
// server expects for a given reading.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"example.com/smartcheck/internal/domain"
	"example.com/smartcheck/internal/signing"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, getenv func(string) string) error {
	var (
		payload   domain.GeoPayload
		secret    string
		verifySig string
	)

	flagSet := pflag.NewFlagSet("geosign", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.Float64Var(&payload.Latitude, "lat", 0, "latitude in decimal degrees")
	flagSet.Float64Var(&payload.Longitude, "lng", 0, "longitude in decimal degrees")
	flagSet.Int64Var(&payload.Timestamp, "timestamp", 0, "capture time in epoch milliseconds (default: now)")
	flagSet.StringVar(&payload.DeviceID, "device", "", "device identifier")
	flagSet.StringVar(&secret, "secret", "", "signing secret (default: $GEO_SECRET_KEY)")
	flagSet.StringVar(&verifySig, "verify", "", "check this signature instead of printing a new one")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if secret == "" {
		secret = getenv("GEO_SECRET_KEY")
	}
	if secret == "" {
		return errors.New("no secret: pass --secret or set GEO_SECRET_KEY")
	}
	if !flagSet.Changed("timestamp") {
		payload.Timestamp = time.Now().UnixMilli()
	}

	canonical, err := payload.Canonical()
	if err != nil {
		return err
	}
	signer := signing.NewHMACSigner(secret)

	fmt.Fprintf(out, "canonical: %s\n", canonical)
	if verifySig != "" {
		if !domain.NewSignatureVerifier(signer).Verify(payload, verifySig) {
			return errors.New("signature does not match")
		}
		fmt.Fprintln(out, "signature: valid")
		return nil
	}

	sig, err := signer.Sign(canonical)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "signature: %s\n", sig)
	return nil
}
