package cli

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bsonmap "github.com/MichaelAJay/go-bsonmap"
	"github.com/MichaelAJay/go-bsonmap/internal/render"
)

// helpWidth is the column help text is wrapped at.
const helpWidth = 50

func wrap(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > helpWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// initConfig loads .env files and binds BSONMAP_* environment variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("bsonmap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

func getRenderer() (render.Renderer, error) {
	format := render.Format(viper.GetString("format"))
	if format == render.JSON && viper.GetBool("indent") {
		return render.NewJSONRenderer(true), nil
	}
	return render.DefaultRegistry.New(format)
}

func getLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	log := logrus.New()
	log.SetLevel(level)
	return log, nil
}

func getDomain() (*bsonmap.Domain, error) {
	log, err := getLogger()
	if err != nil {
		return nil, err
	}
	return bsonmap.NewDomain(
		bsonmap.WithName("cli"),
		bsonmap.WithLogger(log),
		bsonmap.WithDefaults(bsonmap.Defaults{
			AllowDuplicateElementNames: viper.GetBool("allow-duplicates"),
		}),
	), nil
}
