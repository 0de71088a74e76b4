package filesource

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jinford/resume-matcher/internal/core/ingestion"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName はルートディレクトリに置く除外パターンファイル
const IgnoreFileName = ".resumeignore"

// Source はディレクトリ配下の履歴書ファイルを列挙する
type Source struct {
	extensions map[string]bool
}

// New は指定した拡張子のファイルを対象とする Source を作成する
func New(extensions []string) *Source {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	return &Source{extensions: exts}
}

// Discover は root 配下の対象ファイルを絶対パスの昇順で返す
func (s *Source) Discover(ctx context.Context, root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	matcher, err := loadIgnore(root)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if matcher.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if s.extensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	slices.Sort(files)
	return files, nil
}

// loadIgnore は .resumeignore とデフォルトの除外パターンを読み込む
func loadIgnore(root string) (*gitignore.GitIgnore, error) {
	patterns := defaultIgnorePatterns()

	content, err := os.ReadFile(filepath.Join(root, IgnoreFileName))
	switch {
	case err == nil:
		for _, line := range strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read %s: %w", IgnoreFileName, err)
	}

	return gitignore.CompileIgnoreLines(patterns...), nil
}

func defaultIgnorePatterns() []string {
	return []string{
		// 隠しファイル・ディレクトリ
		".*",

		// Office のロックファイル (~$name.docx)
		"~*",

		// 一時ファイル
		"*.tmp",
		"*.temp",
		"*~",

		// アーカイブ済み
		"archive/",
	}
}

var _ ingestion.FileSource = (*Source)(nil)
