package main

import "DocChat/server/internal/bootstrap"

func main() {
	bootstrap.Run()
}
