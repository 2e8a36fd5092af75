/*
Copyright (C) 2026  memkv contributors

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", Overrides{})
	require.NoError(t, err)
	require.Equal(t, 1978, cfg.Port)
	require.Equal(t, "*", cfg.DB)
	require.Equal(t, "", cfg.Sources.File)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), Overrides{})
	require.NoError(t, err)
	require.Equal(t, 1978, cfg.Port)
	require.Equal(t, "", cfg.Sources.File)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memkv.yaml")
	content := "port: 2200\ndb: \"/tmp/data.hdb#bnum=100000\"\nworkers: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	require.Equal(t, 2200, cfg.Port)
	require.Equal(t, "/tmp/data.hdb#bnum=100000", cfg.DB)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, path, cfg.Sources.File)
}

func TestOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 2200\n"), 0o644))

	port := 9999
	cfg, err := Load(path, Overrides{Port: &port})
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Port)
}

func TestValidateRequiresPortOrUnixPath(t *testing.T) {
	zero := 0
	_, err := Load("", Overrides{Port: &zero})
	require.Error(t, err)
}
