package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

var conf *Conf

type Conf struct {
	App struct {
		Version string `toml:"version"`
		Title   string `toml:"title"`
	} `toml:"app"`
	Output struct {
		Directory      string `toml:"directory"`
		LogDir         string `toml:"logDir"`
		OutputTerminal bool   `toml:"outputTerminal"`
		Format         string `toml:"format"`
	} `toml:"output"`
	Task struct {
		Workers   int `toml:"workers"`
		Timedelay int `toml:"timedelay"`
		BufSize   int `toml:"bufSize"`
	} `toml:"task"`
	BreakPoint struct {
		SaveFilePath string `toml:"saveFilePath"`
	} `toml:"breakPoint"`
	Source struct {
		Directory string `toml:"directory"`
		Name      string `toml:"name"`
		TileSize  int    `toml:"tileSize"`
	} `toml:"source"`
	Backup struct {
		Name   string `toml:"name"`
		URL    string `toml:"url"`
		Format string `toml:"format"`
	} `toml:"backup"`
	Tm struct {
		Name   string  `toml:"name"`
		Min    int     `toml:"min"`
		Max    int     `toml:"max"`
		Format string  `toml:"format"`
		Scale  float64 `toml:"scale"`
	} `toml:"tm"`
	Lrs []struct {
		Min     int    `toml:"min"`
		Max     int    `toml:"max"`
		Geojson string `toml:"geojson"`
	} `toml:"lrs"`
	Server struct {
		Address   string `toml:"address"`
		CacheSize int    `toml:"cacheSize"`
	} `toml:"server"`
}

// 输出方式
const (
	OutputMbtiles = "mbtiles"
	OutputFile    = "file"
)

// InitConf 初始化配置
func InitConf(cfgFile string) {
	if cfgFile == "" {
		cfgFile = "conf.toml"
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("config file(%s) not exist\n", cfgFile)
		os.Exit(1)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		// 日志尚未初始化
		fmt.Printf("read config file(%s) error, details: %s\n", viper.ConfigFileUsed(), err)
	}
	// 设置默认值
	viper.SetDefault("app.version", "v 0.2.0")
	viper.SetDefault("app.title", "MapCloud Tiler")
	viper.SetDefault("output.format", OutputMbtiles)
	viper.SetDefault("output.directory", "output")
	viper.SetDefault("output.outputTerminal", true)
	viper.SetDefault("task.workers", 4)
	viper.SetDefault("task.timedelay", 0)
	viper.SetDefault("task.bufSize", 64)
	viper.SetDefault("breakPoint.saveFilePath", "breakpoint")
	viper.SetDefault("source.directory", "charts")
	viper.SetDefault("source.tileSize", TileSize)
	viper.SetDefault("tm.scale", 1)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.cacheSize", 512)

	err = viper.Unmarshal(&conf)
	if err != nil {
		panic("配置文件解析失败")
	}
	if conf.Tm.Name == "" {
		conf.Tm.Name = conf.Source.Name
	}
}
