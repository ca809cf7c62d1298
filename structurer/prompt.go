package structurer

import "fmt"

const template = `
{
    "items": [
        {
            "name": "Nama Item (String)",
            "price": "Harga Satuan (String dengan titik ribuan, cth: '50.000', kosongkan jika modifier)",
            "qty": "Jumlah (String, cth: '1', kosongkan jika tidak ada info)"
        }
    ],
    "subtotal": "Subtotal (String/Null)",
    "tax": "Pajak/PB1 (String dengan titik, cth: '10.000')",
    "service_charge": "Service Charge (String dengan titik)",
    "total": "Total Bayar (String dengan titik)"
}
`

const instructions = `
Kamu adalah parser struk presisi tinggi.
Tugasmu adalah mengekstrak informasi dari teks OCR struk yang berantakan menjadi JSON yang VALID.

INSTRUKSI:
1. Ikuti PERSIS struktur JSON di bawah ini.
2. Perbaiki typo pada nama menu.
3. Format harga HARUS String dengan pemisah titik (hapus 'Rp').
4. Jika data kosong, isi string kosong "" atau null.

TEMPLATE JSON:
%s

TEKS OCR INPUT (DARI MODEL CUSTOM):
%s
`

// Prompt 收据解析提示词，OCR 文本原样嵌入
func Prompt(text string) string {
	return fmt.Sprintf(instructions, template, text)
}
