package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/apex/log"
	macho "github.com/appsworld/go-macho-reader"
	"github.com/appsworld/go-macho-reader/pkg/process"
	"github.com/blacktop/go-dwarf"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().IntP("pid", "p", 0, "Process to read from")
	infoCmd.Flags().StringP("address", "a", "", "Address of the image's Mach-O header")
	infoCmd.Flags().StringP("name", "n", "", "Name of the image, used in messages")
	infoCmd.Flags().StringSliceP("symbol", "s", nil, "Look up external symbols")
	infoCmd.Flags().BoolP("dwarf", "d", false, "List DWARF compile units")
	infoCmd.Flags().BoolP("exports", "e", false, "List the export trie")

	viper.BindPFlag("machoimg.info.pid", infoCmd.Flags().Lookup("pid"))
	viper.BindPFlag("machoimg.info.address", infoCmd.Flags().Lookup("address"))
	viper.BindPFlag("machoimg.info.name", infoCmd.Flags().Lookup("name"))
	viper.BindPFlag("machoimg.info.symbol", infoCmd.Flags().Lookup("symbol"))
	viper.BindPFlag("machoimg.info.dwarf", infoCmd.Flags().Lookup("dwarf"))
	viper.BindPFlag("machoimg.info.exports", infoCmd.Flags().Lookup("exports"))
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:           "info",
	Aliases:       []string{"i"},
	Short:         "Dump a Mach-O image loaded in a process",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		pid := viper.GetInt("machoimg.info.pid")
		addrStr := viper.GetString("machoimg.info.address")
		name := viper.GetString("machoimg.info.name")
		symbols := viper.GetStringSlice("machoimg.info.symbol")
		showDWARF := viper.GetBool("machoimg.info.dwarf")
		showExports := viper.GetBool("machoimg.info.exports")

		if pid <= 0 || len(addrStr) == 0 {
			return fmt.Errorf("you must supply a --pid and an --address")
		}
		addr, err := strconv.ParseUint(addrStr, 0, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid address %q", addrStr)
		}
		if len(name) == 0 {
			name = fmt.Sprintf("image@%#x", addr)
		}

		task, err := process.Open(pid)
		if err != nil {
			return errors.Wrapf(err, "failed to open process %d", pid)
		}
		log.WithFields(log.Fields{"pid": pid, "address": fmt.Sprintf("%#x", addr)}).Debug("reading image")

		img, err := macho.NewImageReader(task, addr, name)
		if err != nil {
			return err
		}

		printImage(os.Stdout, img)

		for _, sym := range symbols {
			v, err := lookUpSymbol(img, sym)
			if err != nil {
				log.WithError(err).Warnf("failed to look up %s", sym)
				continue
			}
			fmt.Printf("%#016x\t%s\n", v, sym)
		}

		if showExports {
			exports, err := img.ExportedSymbols()
			if err != nil {
				return errors.Wrap(err, "failed to read exports")
			}
			for _, e := range exports {
				fmt.Println(e)
			}
		}

		if showDWARF {
			d, err := img.DWARF()
			if err != nil {
				return errors.Wrap(err, "failed to read DWARF")
			}
			r := d.Reader()
			for {
				entry, err := r.Next()
				if err != nil {
					return errors.Wrap(err, "failed to read DWARF entry")
				}
				if entry == nil {
					break
				}
				if cu, ok := entry.Val(dwarf.AttrName).(string); ok {
					fmt.Printf("CU: %s\n", cu)
				}
				r.SkipChildren()
			}
		}
		return nil
	},
}

// lookUpSymbol tries the symbol table first and falls back to the export
// trie, which is all that is left of many shared cache images.
func lookUpSymbol(img *macho.ImageReader, sym string) (uint64, error) {
	v, err := img.LookUpExternalDefinedSymbol(sym)
	if errors.Is(err, macho.ErrSymbolNotFound) {
		return img.LookUpExportedSymbol(sym)
	}
	return v, err
}

func printImage(out io.Writer, img *macho.ImageReader) {
	w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", img.Name())
	fmt.Fprintf(w, "Type:\t%s\n", img.FileType())
	fmt.Fprintf(w, "CPU:\t%s\n", img.CPU())
	fmt.Fprintf(w, "Flags:\t%s\n", img.Flags())
	fmt.Fprintf(w, "Address:\t%#x\n", img.Address())
	fmt.Fprintf(w, "Size:\t%#x\n", img.Size())
	fmt.Fprintf(w, "Slide:\t%#x\n", img.Slide())
	if u := img.UUID(); !u.IsZero() {
		fmt.Fprintf(w, "UUID:\t%s\n", u)
	}
	if v := img.SourceVersion(); v != 0 {
		fmt.Fprintf(w, "Source Version:\t%s\n", v)
	}
	if id := img.DylibID(); len(id) > 0 {
		fmt.Fprintf(w, "Dylib:\t%s (%s)\n", id, img.DylibVersion())
	}
	if dyld := img.DylinkerName(); len(dyld) > 0 {
		fmt.Fprintf(w, "Dylinker:\t%s\n", dyld)
	}
	if img.InDyldSharedCache() {
		fmt.Fprintf(w, "Shared Cache:\ttrue\n")
	}
	w.Flush()

	fmt.Fprintln(out)
	for i, seg := range img.Segments() {
		fmt.Fprintf(out, "%03d: %s\n", i, seg)
		for _, sect := range seg.Sections() {
			fmt.Fprintf(out, "\t%d: %s\n", sect.Ordinal, sect)
		}
	}
}
