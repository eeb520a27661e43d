package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	bsonmap "github.com/MichaelAJay/go-bsonmap"
	"github.com/MichaelAJay/go-bsonmap/internal/render"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file...]",
	Short: "Decode concatenated BSON documents and render them",
	Long: wrap(`Reads concatenated BSON documents (as written by mongodump) from the
given files, or standard input when none are given, decodes each one
dynamically and writes it in the selected format.`),
	PreRunE: func(cmd *cobra.Command, _ []string) error { return bindFlags(cmd) },
	RunE:    runInspect,
}

func init() {
	inspectCmd.Flags().Bool("discriminators", false, wrap("print the discriminator of each document instead of the document"))
	inspectCmd.Flags().Bool("allow-duplicates", false, wrap("accept documents with duplicate element names"))
	inspectCmd.Flags().Int("limit", 0, wrap("stop after this many documents (0 means no limit)"))
}

func runInspect(cmd *cobra.Command, args []string) error {
	d, err := getDomain()
	if err != nil {
		return err
	}
	r, err := getRenderer()
	if err != nil {
		return err
	}
	out := bufio.NewWriter(cmd.OutOrStdout())
	defer out.Flush()

	in := &inspector{
		domain:         d,
		renderer:       r,
		out:            out,
		discriminators: viper.GetBool("discriminators"),
		limit:          viper.GetInt("limit"),
	}
	if len(args) == 0 {
		return in.inspect(cmd.InOrStdin(), "stdin")
	}
	for _, name := range args {
		f, err := os.Open(name)
		if err != nil {
			return errors.Wrapf(err, "opening %s", name)
		}
		err = in.inspect(bufio.NewReader(f), name)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

type inspector struct {
	domain         *bsonmap.Domain
	renderer       render.Renderer
	out            io.Writer
	discriminators bool
	limit          int
	seen           int
}

func (in *inspector) inspect(r io.Reader, source string) error {
	elementName := in.domain.Defaults().DiscriminatorElementName
	for n := 0; in.limit == 0 || in.seen < in.limit; n++ {
		raw, err := bsoncore.NewDocumentFromReader(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "reading document %d of %s", n, source)
		}
		in.seen++

		if in.discriminators {
			disc := "-"
			if v, err := raw.LookupErr(elementName); err == nil {
				disc = v.String()
			}
			fmt.Fprintf(in.out, "%s\t%d\t%s\n", source, n, disc)
			continue
		}

		doc, err := bsonmap.DeserializeValue[primitive.D](in.domain, bsonrw.NewBSONDocumentReader(raw), nil)
		if err != nil {
			return errors.Wrapf(err, "decoding document %d of %s", n, source)
		}
		if err := in.renderer.RenderTo(in.out, doc); err != nil {
			return err
		}
	}
	return nil
}
