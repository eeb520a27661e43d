package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MichaelAJay/go-bsonmap/vector"
)

var (
	vectorCmd = &cobra.Command{
		Use:   "vector",
		Short: "Convert binary vectors",
	}

	vectorEncodeCmd = &cobra.Command{
		Use:     "encode value...",
		Short:   "Encode numbers as a binary vector and print it as hex",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindFlags(cmd) },
		RunE:    runVectorEncode,
	}

	vectorDecodeCmd = &cobra.Command{
		Use:     "decode hex",
		Short:   "Decode a hex binary vector and render its items",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindFlags(cmd) },
		RunE:    runVectorDecode,
	}
)

func init() {
	vectorCmd.AddCommand(vectorEncodeCmd)
	vectorCmd.AddCommand(vectorDecodeCmd)

	vectorEncodeCmd.Flags().String("dtype", "float32", wrap("vector data type (float32, int8, packedbit)"))
	vectorEncodeCmd.Flags().Uint8("padding", 0, wrap("unused trailing bits of a packed_bit vector"))
}

func runVectorEncode(cmd *cobra.Command, args []string) error {
	dt, err := vector.ParseDataType(viper.GetString("dtype"))
	if err != nil {
		return err
	}
	var data []byte
	switch dt {
	case vector.Float32:
		items := make([]float32, len(args))
		for i, a := range args {
			f, err := strconv.ParseFloat(a, 32)
			if err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
			items[i] = float32(f)
		}
		data, err = vector.Encode(items, dt, 0)
	case vector.Int8:
		items := make([]int8, len(args))
		for i, a := range args {
			n, err := strconv.ParseInt(a, 10, 8)
			if err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
			items[i] = int8(n)
		}
		data, err = vector.Encode(items, dt, 0)
	default:
		items := make([]byte, len(args))
		for i, a := range args {
			n, err := strconv.ParseUint(a, 0, 8)
			if err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
			items[i] = byte(n)
		}
		data, err = vector.Encode(items, dt, uint8(viper.GetUint("padding")))
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
	return nil
}

func runVectorDecode(cmd *cobra.Command, args []string) error {
	data, err := hex.DecodeString(args[0])
	if err != nil {
		return errors.Wrap(err, "invalid hex")
	}
	dt, padding, _, err := vector.ReadHeader(data)
	if err != nil {
		return err
	}
	var items any
	switch dt {
	case vector.Float32:
		items, _, _, err = vector.Decode[float32](data)
	case vector.Int8:
		items, _, _, err = vector.Decode[int8](data)
	default:
		var bits []byte
		bits, _, _, err = vector.Decode[byte](data)
		ints := make([]int, len(bits))
		for i, b := range bits {
			ints[i] = int(b)
		}
		items = ints
	}
	if err != nil {
		return err
	}
	r, err := getRenderer()
	if err != nil {
		return err
	}
	result := map[string]any{"dtype": dt.String(), "padding": int(padding), "items": items}
	return r.RenderTo(cmd.OutOrStdout(), result)
}
