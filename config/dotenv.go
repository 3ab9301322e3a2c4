package config

import "github.com/joho/godotenv"

func godotenvLoad() error {
	return godotenv.Load()
}
