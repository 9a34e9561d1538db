package migrations

// Legends adds the palette legend table viewers read to label image
// pixel values. cmd/migrate fills it from the renderer palettes.
var Legends = &Migration{
	Name: "002_legends",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS legends (
			name TEXT PRIMARY KEY,
			entries JSONB NOT NULL
		);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS legends;
	`,
}
