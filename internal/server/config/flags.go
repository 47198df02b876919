package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/passgate/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-f string   path of the persisted link/grant document
//	-m string   path of the item→role mapping table
//	-s string   JWT HMAC secret key
//	-k string   bcrypt hash of the shared delivery secret
//	-z string   local artifact path
//	-n string   attachment filename sent to clients
//	-t int      admin token validity, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name (non-empty enables the S3 artifact backend)
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes
//     using flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-m", "-s", "-k", "-z", "-n", "-t", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.StorePath, "f", config.StorePath, "persisted document path")
	fs.StringVar(&config.RoleMappingPath, "m", config.RoleMappingPath, "role mapping table path")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.DownloadKeyHash, "k", config.DownloadKeyHash, "bcrypt hash of the delivery secret")
	fs.StringVar(&config.ArtifactPath, "z", config.ArtifactPath, "artifact path")
	fs.StringVar(&config.ArtifactFileName, "n", config.ArtifactFileName, "artifact attachment filename")

	adminTokenValidityDuration := fs.Int("t", int(config.AdminTokenValidityDuration.Minutes()), "admin_token_validity_duration (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AdminTokenValidityDuration = time.Duration(*adminTokenValidityDuration) * time.Minute
}
