package content

import "os"

// HashFile opens and hashes the file at path, using its current size to
// pick the block size.
func HashFile(path string) (Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tree{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Tree{}, err
	}

	return HashReader(f, stat.Size())
}
