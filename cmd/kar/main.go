// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/png" // png decoder
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/asset"
	"github.com/devblok/koru-rt/utility/kar"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"
)

func init() {
	currentUserName = "unknown"
	if u, err := user.Current(); err == nil && u.Name != "" {
		currentUserName = u.Name
	}
}

var (
	currentUserName string

	author   = flag.String("author", "", "Set the author of the package when compressing, defaults to the current user")
	version  = flag.Int64("version", 1, "Archive version number to create it with")
	extract  = flag.String("e", "", "Extract the given archive into the destination directory")
	compress = flag.String("c", "", "Pack the png images of the given file/folder as textures")
	list     = flag.String("l", "", "List the textures of the given archive")
	dst      = flag.String("f", "out.kar", "Destination file or directory")
	mips     = flag.Bool("mips", false, "Store the full mip chain instead of generating it on load")
	silent   = flag.Bool("s", false, "Silent")
)

func main() {
	flag.Parse()
	if *silent {
		log.SetLevel(log.WarnLevel)
	}

	ops := 0
	for _, op := range []string{*extract, *compress, *list} {
		if op != "" {
			ops++
		}
	}
	if ops > 1 {
		log.Fatal("kar: only one operation at a time")
	}

	var err error
	switch {
	case *compress != "":
		err = compressTextures(*compress, *dst)
	case *list != "":
		err = listTextures(*list)
	case *extract != "":
		err = extractFiles(*extract, *dst)
	default:
		flag.PrintDefaults()
	}
	if err != nil {
		log.WithError(err).Fatal("kar: failed")
	}
}

// textureName derives the texture name from its path relative to root.
func textureName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))
}

func compressTextures(src, dstFile string) error {
	if _, err := os.Stat(dstFile); err == nil {
		return errors.Newf("destination file %s exists, will not overwrite", dstFile)
	}

	var images []string
	if err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".png") {
			images = append(images, path)
		}
		return nil
	}); err != nil {
		return errors.Wrapf(err, "walking %s", src)
	}

	name := *author
	if name == "" {
		name = currentUserName
	}
	builder, err := kar.NewBuilder(kar.Header{
		Author:      name,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer builder.Close()

	var g errgroup.Group
	for _, path := range images {
		path := path
		g.Go(func() error {
			return packImage(builder, textureName(src, path), path)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f, err := os.Create(dstFile)
	if err != nil {
		return err
	}
	defer f.Close()

	written, err := builder.WriteTo(f)
	if err != nil {
		return errors.Wrapf(err, "writing %s", dstFile)
	}
	log.WithFields(log.Fields{
		"archive":  dstFile,
		"textures": len(images),
		"bytes":    written,
	}).Info("kar: archive written")
	return nil
}

func packImage(builder *kar.Builder, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}

	tex, err := asset.ImportImage(nil, img, true, *mips)
	if err != nil {
		return errors.Wrapf(err, "importing %s", path)
	}
	log.WithFields(log.Fields{
		"texture": name,
		"levels":  len(tex.Data()),
	}).Debug("kar: packing")
	return asset.SaveTexture(builder, name, tex)
}

func openArchive(path string) (*kar.Archive, func(), error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening %s", path)
	}
	ar, err := kar.Open(reader)
	if err != nil {
		reader.Close()
		return nil, nil, errors.Wrapf(err, "reading %s", path)
	}
	return ar, func() { reader.Close() }, nil
}

func listTextures(path string) error {
	ar, closer, err := openArchive(path)
	if err != nil {
		return err
	}
	defer closer()

	header := ar.Header()
	fmt.Printf("author: %s, version: %d, created: %s\n",
		header.Author, header.Version, time.Unix(header.DateCreated, 0).Format(time.RFC3339))

	for _, entry := range ar.Names() {
		if !strings.HasSuffix(entry, "/texture") {
			continue
		}
		name := strings.TrimSuffix(entry, "/texture")
		th, err := asset.ReadHeader(ar, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%dx%d\t%s\t%d levels\n", name, th.Width, th.Height, th.Format, th.Levels)
	}
	return nil
}

func extractFiles(path, dstDir string) error {
	ar, closer, err := openArchive(path)
	if err != nil {
		return err
	}
	defer closer()

	for _, entry := range ar.Names() {
		data, err := ar.ReadAll(entry)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, filepath.FromSlash(entry))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := ioutil.WriteFile(target, data, 0644); err != nil {
			return err
		}
	}
	log.WithField("files", len(ar.Names())).Info("kar: extracted")
	return nil
}
